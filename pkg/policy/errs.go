package policy

import "errors"

var (
	// ErrConfigIO indicates the policy file could not be read or written.
	ErrConfigIO = errors.New("policy: config io")

	// ErrParse indicates a malformed policy file or value.
	ErrParse = errors.New("policy: parse")

	// ErrInvariant indicates a store that violates its invariants.
	ErrInvariant = errors.New("policy: invariant violated")
)
