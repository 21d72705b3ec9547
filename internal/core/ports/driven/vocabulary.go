package driven

import "context"

// Vocabulary exposes the controlled-vocabulary schemes known to the system.
type Vocabulary interface {
	// Schemes returns the names of all known tag schemes.
	// An error means the vocabulary could not be consulted; callers that
	// filter on schemes must fail closed.
	Schemes(ctx context.Context) ([]string, error)
}
