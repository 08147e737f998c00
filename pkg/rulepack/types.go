// Package rulepack models the versioned, jurisdiction/profile-scoped
// validation schemas that drive the incident validation engine. Packs are
// delivered as data, never compiled in: sections, fields, requiredness
// predicates and value sets are all interpreted at runtime.
package rulepack

import (
	"time"
)

// FieldType enumerates the value shapes a field may declare.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeNumber   FieldType = "number"
	TypeBoolean  FieldType = "boolean"
	TypeDatetime FieldType = "datetime"
	TypeList     FieldType = "list"
	TypeObject   FieldType = "object"
)

// Requirement expresses whether a field must be present. Exactly one of
// Always or If is meaningful: a static flag, or a CEL predicate over the
// record payload (bound as `payload`).
type Requirement struct {
	Always bool   `json:"always,omitempty" yaml:"always,omitempty"`
	If     string `json:"if,omitempty" yaml:"if,omitempty"`
}

// Conditional reports whether the requirement depends on record content.
func (r Requirement) Conditional() bool { return r.If != "" }

// Field describes a single dot-addressed payload location and its rules.
type Field struct {
	// Path is the dot-addressed location in the record payload,
	// e.g. "units.0.unit_id" or "incident_type_code".
	Path  string    `json:"path" yaml:"path"`
	Label string    `json:"label" yaml:"label"`
	Type  FieldType `json:"type" yaml:"type"`

	Required Requirement `json:"required,omitempty" yaml:"required,omitempty"`

	// Advisory demotes a missing-value finding from error to warning
	// (recommended-but-optional fields, e.g. a narrative).
	Advisory bool `json:"advisory,omitempty" yaml:"advisory,omitempty"`

	// ValueSetRef names an entry in RulePack.ValueSets the value must
	// belong to, when present.
	ValueSetRef string `json:"valueSetRef,omitempty" yaml:"valueSetRef,omitempty"`

	// NotBefore names a sibling datetime path that must not exceed this
	// field's value (end >= start pairing).
	NotBefore string `json:"notBefore,omitempty" yaml:"notBefore,omitempty"`
}

// PresenceCheck is a section-scoped rule over a list path: at least
// MinEntries entries must exist, and if EntryField is set, at least one
// entry must carry a non-empty value at that relative path.
type PresenceCheck struct {
	ListPath   string `json:"listPath" yaml:"listPath"`
	EntryField string `json:"entryField,omitempty" yaml:"entryField,omitempty"`
	MinEntries int    `json:"minEntries,omitempty" yaml:"minEntries,omitempty"`
	Message    string `json:"message" yaml:"message"`
}

// Section groups fields for UI presentation and for error aggregation that
// is not attributable to a single field.
type Section struct {
	ID             string          `json:"id" yaml:"id"`
	Label          string          `json:"label" yaml:"label"`
	Fields         []Field         `json:"fields" yaml:"fields"`
	PresenceChecks []PresenceCheck `json:"presenceChecks,omitempty" yaml:"presenceChecks,omitempty"`
}

// RulePack is one versioned validation schema for a (jurisdiction, profile)
// pair. Field paths are unique within a pack and every ValueSetRef resolves
// to an entry in ValueSets; Compile enforces both.
type RulePack struct {
	ID           string              `json:"id" yaml:"id"`
	Jurisdiction string              `json:"jurisdiction" yaml:"jurisdiction"`
	Profile      string              `json:"profile" yaml:"profile"`
	Version      string              `json:"version" yaml:"version"`
	Sections     []Section           `json:"sections" yaml:"sections"`
	ValueSets    map[string][]string `json:"valueSets" yaml:"valueSets"`

	ActivatedAt time.Time `json:"activatedAt,omitempty" yaml:"-"`
}

// Key identifies the scope a pack applies to.
type Key struct {
	Jurisdiction string
	Profile      string
}

func (p *RulePack) Key() Key {
	return Key{Jurisdiction: p.Jurisdiction, Profile: p.Profile}
}
