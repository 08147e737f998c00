package rulepack

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ValueSet is a compiled enumerated value list with a case-insensitive
// lookup index for suggestion matching.
type ValueSet struct {
	Name    string
	Values  []string
	byFold  map[string]string // lowercased value -> canonical value
	members map[string]bool
}

// Contains reports exact membership.
func (vs *ValueSet) Contains(v string) bool { return vs.members[v] }

// FoldMatch returns the canonical value matching v case-insensitively.
func (vs *ValueSet) FoldMatch(v string) (string, bool) {
	m, ok := vs.byFold[strings.ToLower(v)]
	return m, ok
}

// CompiledPack is a RulePack with its predicates compiled and its value
// sets indexed. Compilation happens once per activation; the validation
// engine only ever sees compiled packs.
type CompiledPack struct {
	Pack       *RulePack
	Semver     *semver.Version
	ValueSets  map[string]*ValueSet
	predicates map[string]*Predicate // field path -> compiled requiredness
}

// Predicate returns the compiled requiredness predicate for a field path,
// or nil when the field's requiredness is static.
func (c *CompiledPack) Predicate(path string) *Predicate {
	return c.predicates[path]
}

// Compile validates a pack's internal invariants and compiles it:
// parseable semver, unique field paths, every valueSetRef resolving, every
// notBefore naming another field in the pack, and every conditional
// requiredness expression compiling to a bool.
func Compile(p *RulePack) (*CompiledPack, error) {
	ver, err := semver.NewVersion(p.Version)
	if err != nil {
		return nil, fmt.Errorf("rulepack %s: version %q is not semver: %w", p.ID, p.Version, err)
	}

	sets := make(map[string]*ValueSet, len(p.ValueSets))
	for name, values := range p.ValueSets {
		vs := &ValueSet{
			Name:    name,
			Values:  values,
			byFold:  make(map[string]string, len(values)),
			members: make(map[string]bool, len(values)),
		}
		for _, v := range values {
			vs.members[v] = true
			vs.byFold[strings.ToLower(v)] = v
		}
		sets[name] = vs
	}

	paths := make(map[string]bool)
	predicates := make(map[string]*Predicate)
	for _, sec := range p.Sections {
		for _, f := range sec.Fields {
			if paths[f.Path] {
				return nil, fmt.Errorf("rulepack %s: duplicate field path %q", p.ID, f.Path)
			}
			paths[f.Path] = true

			if f.ValueSetRef != "" {
				if _, ok := sets[f.ValueSetRef]; !ok {
					return nil, fmt.Errorf("rulepack %s: field %q references unknown value set %q", p.ID, f.Path, f.ValueSetRef)
				}
			}
			if f.Required.Conditional() {
				pred, err := CompilePredicate(f.Required.If)
				if err != nil {
					return nil, fmt.Errorf("rulepack %s: field %q: %w", p.ID, f.Path, err)
				}
				predicates[f.Path] = pred
			}
		}
	}
	// notBefore targets must exist; checked after all paths are known since
	// the target may be declared in a later section.
	for _, sec := range p.Sections {
		for _, f := range sec.Fields {
			if f.NotBefore != "" && !paths[f.NotBefore] {
				return nil, fmt.Errorf("rulepack %s: field %q notBefore target %q is not declared", p.ID, f.Path, f.NotBefore)
			}
		}
	}

	return &CompiledPack{
		Pack:       p,
		Semver:     ver,
		ValueSets:  sets,
		predicates: predicates,
	}, nil
}
