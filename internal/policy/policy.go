// Package policy holds the type-keyed merge/diff configuration consumed
// by the reconciliation engine: which merge strategy applies to each
// entity type, which attributes are volatile for delete-conflict diffs,
// and which attributes are local-only.
//
// The configuration is CUE: an embedded schema plus defaults, optionally
// unified with a user-supplied overlay file. Making the attribute sets
// explicit configuration (instead of a guessed global default) is
// deliberate — "what counts as volatile" is a per-type decision.
package policy

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue/cuecontext"
)

//go:embed policy.cue
var policyCUE string

// Strategy selects the merge function applied on a concurrent change.
type Strategy string

const (
	// StrategyThreeWay is the default: unchanged upstream accepts the
	// candidate; a conflicted record keeps authoritative values except
	// local-only attributes.
	StrategyThreeWay Strategy = "threeWay"

	// StrategyClientWins accepts the candidate unconditionally (audit
	// data: the endpoint is the source of truth).
	StrategyClientWins Strategy = "clientWins"

	// StrategyValueList keeps the candidate's value list only if the
	// snapshot and authoritative value sets are equal; any divergence
	// drops the whole update.
	StrategyValueList Strategy = "valueList"

	// StrategyAssignment carries status/progress/result through and the
	// requested action only when it is unchanged upstream.
	StrategyAssignment Strategy = "assignment"
)

// TypePolicy is one entity type's merge/diff configuration.
type TypePolicy struct {
	Strategy       Strategy `json:"strategy"`
	VolatileAttrs  []string `json:"volatileAttrs"`
	LocalOnlyAttrs []string `json:"localOnlyAttrs"`
	CandidateAttrs []string `json:"candidateAttrs"`
	ValueListAttr  string   `json:"valueListAttr"`
}

// Set is the full, validated policy configuration.
type Set struct {
	types map[string]TypePolicy
}

// For returns the policy for a type. Types without an entry get the
// default three-way policy with empty attribute sets.
func (s *Set) For(typeName string) TypePolicy {
	if p, ok := s.types[typeName]; ok {
		return p
	}
	return TypePolicy{Strategy: StrategyThreeWay, ValueListAttr: "values"}
}

// Default returns the embedded policy set.
func Default() (*Set, error) {
	return compile(policyCUE)
}

// LoadFile unifies the embedded schema and defaults with a user overlay
// and validates the result. Overlay entries must satisfy the schema; a
// type may be added or have its attribute sets extended, but an entry
// conflicting with the schema fails loading.
func LoadFile(path string) (*Set, error) {
	overlay, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return compile(policyCUE + "\n" + string(overlay))
}

func compile(src string) (*Set, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	if err := v.Validate(); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}

	var decoded struct {
		Types map[string]TypePolicy `json:"types"`
	}
	if err := v.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return &Set{types: decoded.Types}, nil
}
