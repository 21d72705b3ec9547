package domain

// StrictFilter is a boolean admission predicate over a document's tags.
// It is evaluated before retrieval so that rejected documents never take
// part in ranking or fusion.
type StrictFilter struct {
	// RequiredTags must all be present (AND).
	RequiredTags []string

	// AnyTags must have at least one member present (OR).
	AnyTags []string

	// ExcludedTags must all be absent (NOT).
	ExcludedTags []string

	// AllowedSchemes restricts matching to tags of these schemes.
	// Tags of other schemes are ignored as if absent.
	AllowedSchemes []string

	// RequiredSchemes isolate documents to these schemes: at least one tag
	// must belong to a listed scheme and no tag may belong to any other.
	RequiredSchemes []string

	// ExcludedSchemes reject any document carrying a tag of these schemes.
	ExcludedSchemes []string

	// MinTagCount is the minimum number of counted tags.
	MinTagCount int

	// ExcludeUntagged rejects documents with no counted tags even when
	// no positive constraint is set.
	ExcludeUntagged bool

	// MatchNone marks the filter as unsatisfiable; nothing is admitted.
	MatchNone bool
}

// IsEmpty returns true if the filter admits every document.
func (f *StrictFilter) IsEmpty() bool {
	if f == nil {
		return true
	}
	return len(f.RequiredTags) == 0 &&
		len(f.AnyTags) == 0 &&
		len(f.ExcludedTags) == 0 &&
		len(f.AllowedSchemes) == 0 &&
		len(f.RequiredSchemes) == 0 &&
		len(f.ExcludedSchemes) == 0 &&
		f.MinTagCount <= 0 &&
		!f.ExcludeUntagged &&
		!f.MatchNone
}

// hasPositiveConstraint reports whether the filter demands some tag be present.
func (f *StrictFilter) hasPositiveConstraint() bool {
	return len(f.RequiredTags) > 0 || len(f.AnyTags) > 0 ||
		len(f.RequiredSchemes) > 0 || f.MinTagCount > 0
}

// ReferencedSchemes returns every scheme the filter names, directly or via tags.
func (f *StrictFilter) ReferencedSchemes() []string {
	if f == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, list := range [][]string{f.RequiredTags, f.AnyTags, f.ExcludedTags} {
		for _, t := range ParseTags(list) {
			add(t.Scheme)
		}
	}
	for _, list := range [][]string{f.AllowedSchemes, f.RequiredSchemes, f.ExcludedSchemes} {
		for _, s := range list {
			add(NormalizeScheme(s))
		}
	}
	return out
}

// Admit evaluates the filter against a document's tags.
// A nil filter admits everything.
func (f *StrictFilter) Admit(tags []string) bool {
	if f == nil {
		return true
	}
	if f.MatchNone {
		return false
	}

	parsed := ParseTags(tags)

	// Exclusions and scheme isolation look at the full tag set, before any
	// allow-list restriction.
	if len(f.ExcludedSchemes) > 0 {
		excluded := schemeSet(f.ExcludedSchemes)
		for _, t := range parsed {
			if excluded[t.Scheme] {
				return false
			}
		}
	}
	if len(f.ExcludedTags) > 0 {
		present := make(map[Tag]bool, len(parsed))
		for _, t := range parsed {
			present[t] = true
		}
		for _, t := range ParseTags(f.ExcludedTags) {
			if present[t] {
				return false
			}
		}
	}
	if len(f.RequiredSchemes) > 0 && !isolatedTo(parsed, schemeSet(f.RequiredSchemes)) {
		return false
	}

	counted := make(map[Tag]bool, len(parsed))
	allowed := schemeSet(f.AllowedSchemes)
	for _, t := range parsed {
		if len(allowed) > 0 && !allowed[t.Scheme] {
			continue
		}
		counted[t] = true
	}

	if len(counted) == 0 {
		if f.hasPositiveConstraint() || f.ExcludeUntagged {
			return false
		}
		return true
	}

	for _, t := range ParseTags(f.RequiredTags) {
		if !counted[t] {
			return false
		}
	}

	if len(f.AnyTags) > 0 {
		found := false
		for _, t := range ParseTags(f.AnyTags) {
			if counted[t] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return len(counted) >= f.MinTagCount
}

// isolatedTo reports whether tags is non-empty and every tag belongs to schemes.
func isolatedTo(tags []Tag, schemes map[string]bool) bool {
	if len(tags) == 0 {
		return false
	}
	for _, t := range tags {
		if !schemes[t.Scheme] {
			return false
		}
	}
	return true
}

func schemeSet(list []string) map[string]bool {
	if len(list) == 0 {
		return nil
	}
	set := make(map[string]bool, len(list))
	for _, s := range list {
		set[NormalizeScheme(s)] = true
	}
	return set
}
