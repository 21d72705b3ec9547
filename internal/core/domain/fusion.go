package domain

// FusionStrategy selects the rank fusion algorithm.
type FusionStrategy string

// Available fusion strategies.
const (
	// FusionRRF is reciprocal rank fusion.
	FusionRRF FusionStrategy = "rrf"

	// FusionRSF is relative score fusion.
	FusionRSF FusionStrategy = "rsf"
)

// IsValid returns true if the strategy is recognised.
func (s FusionStrategy) IsValid() bool {
	return s == FusionRRF || s == FusionRSF
}

// String returns the string representation.
func (s FusionStrategy) String() string {
	return string(s)
}

// Default fusion parameters.
const (
	DefaultRRFK    = 20
	DefaultRRFMinK = 8
	DefaultRRFMaxK = 40
)

// FusionWeights is the (lexical, semantic) weight pair for RSF.
type FusionWeights struct {
	Lexical  float64 `json:"lexical"`
	Semantic float64 `json:"semantic"`
}

// RRFParams configures reciprocal rank fusion.
type RRFParams struct {
	// K is the base rank constant.
	K int

	// Adaptive scales K from the query shape.
	Adaptive bool

	// MinK and MaxK clamp the adapted constant.
	MinK int
	MaxK int

	// ShortMultiplier applies to queries of two tokens or fewer.
	ShortMultiplier float64

	// LongMultiplier applies to queries of six tokens or more.
	LongMultiplier float64

	// QuotedMultiplier applies to quoted or phrase queries.
	QuotedMultiplier float64
}

// RSFParams configures relative score fusion.
type RSFParams struct {
	// Weights is used when Adaptive is false.
	Weights FusionWeights

	// Adaptive picks weights from the query shape.
	Adaptive bool
}

// FusionConfig is a tagged union over the fusion strategies.
// Only the params block matching Strategy is consulted.
type FusionConfig struct {
	Strategy FusionStrategy
	RRF      RRFParams
	RSF      RSFParams
}

// DefaultFusionConfig returns adaptive RRF with the standard constants.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		Strategy: FusionRRF,
		RRF: RRFParams{
			K:                DefaultRRFK,
			Adaptive:         true,
			MinK:             DefaultRRFMinK,
			MaxK:             DefaultRRFMaxK,
			ShortMultiplier:  0.7,
			LongMultiplier:   1.3,
			QuotedMultiplier: 0.6,
		},
		RSF: RSFParams{
			Weights:  FusionWeights{Lexical: 0.5, Semantic: 0.5},
			Adaptive: true,
		},
	}
}
