package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/firelinehq/incidentd/pkg/canonical"
	"github.com/firelinehq/incidentd/pkg/record"
	"github.com/firelinehq/incidentd/pkg/rulepack"
)

// Payload bounds. Exceeding either is a request error, not a finding: the
// payload is malformed input, not an invalid incident.
const (
	DefaultMaxDepth  = 32
	DefaultMaxLeaves = 10000
)

var (
	// ErrPayloadTooDeep reports nesting beyond the configured depth bound.
	ErrPayloadTooDeep = errors.New("validation: payload exceeds depth bound")
	// ErrPayloadTooLarge reports more scalar leaves than the bound allows.
	ErrPayloadTooLarge = errors.New("validation: payload exceeds field count bound")
)

// Engine interprets compiled rule packs over record payloads. It holds no
// mutable state beyond its bounds, so one Engine serves all goroutines.
type Engine struct {
	maxDepth  int
	maxLeaves int
}

// NewEngine creates an Engine with the default payload bounds.
func NewEngine() *Engine {
	return &Engine{maxDepth: DefaultMaxDepth, maxLeaves: DefaultMaxLeaves}
}

// CheckPayloadBounds enforces the default bounds on a payload before it is
// accepted for storage. Evaluate re-checks with the engine's own bounds.
func CheckPayloadBounds(payload map[string]any) error {
	return checkBounds(payload, DefaultMaxDepth, DefaultMaxLeaves)
}

func checkBounds(payload map[string]any, maxDepth, maxLeaves int) error {
	if d := record.Depth(payload); d > maxDepth {
		return fmt.Errorf("%w: depth %d > %d", ErrPayloadTooDeep, d, maxDepth)
	}
	if n := record.LeafCount(payload); n > maxLeaves {
		return fmt.Errorf("%w: %d leaves > %d", ErrPayloadTooLarge, n, maxLeaves)
	}
	return nil
}

// Evaluate runs every section of the pack against the record payload and
// aggregates the findings. Pure and deterministic: sections and fields are
// visited in declared order, and the fingerprint is the canonical hash of
// the payload, so identical inputs always yield identical results.
func (e *Engine) Evaluate(rec *record.IncidentRecord, pack *rulepack.CompiledPack) (*Result, error) {
	if err := checkBounds(rec.Payload, e.maxDepth, e.maxLeaves); err != nil {
		return nil, err
	}

	fingerprint, err := canonical.Hash(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("validation: fingerprint: %w", err)
	}

	issues := make([]Issue, 0)
	for _, sec := range pack.Pack.Sections {
		for _, f := range sec.Fields {
			issues = append(issues, e.evaluateField(rec.Payload, pack, sec.ID, f)...)
		}
		for _, pc := range sec.PresenceChecks {
			if iss, failed := evaluatePresence(rec.Payload, sec.ID, pc); failed {
				issues = append(issues, iss)
			}
		}
	}

	return &Result{
		Valid:               !HasErrors(issues),
		Issues:              issues,
		ComputedFingerprint: fingerprint,
		PackID:              pack.Pack.ID,
		PackVersion:         pack.Pack.Version,
	}, nil
}

func (e *Engine) evaluateField(payload map[string]any, pack *rulepack.CompiledPack, sectionID string, f rulepack.Field) []Issue {
	v, found := resolve(payload, f.Path)
	missing := absent(v, found)

	var issues []Issue
	if missing {
		if e.fieldRequired(payload, pack, f) {
			sev := SeverityError
			if f.Advisory {
				sev = SeverityWarning
			}
			issues = append(issues, Issue{
				Severity:  sev,
				FieldPath: f.Path,
				SectionID: sectionID,
				Message:   fmt.Sprintf("%s is required", fieldLabel(f)),
			})
		}
		// Absent values get no further checks; unknown payload paths are
		// never flagged either, for forward compatibility.
		return issues
	}

	if f.ValueSetRef != "" {
		if iss, bad := checkValueSet(pack, sectionID, f, v); bad {
			issues = append(issues, iss)
		}
	}
	if iss, bad := checkType(payload, sectionID, f, v); bad {
		issues = append(issues, iss)
	}
	return issues
}

func (e *Engine) fieldRequired(payload map[string]any, pack *rulepack.CompiledPack, f rulepack.Field) bool {
	if pred := pack.Predicate(f.Path); pred != nil {
		return pred.Eval(payload)
	}
	return f.Required.Always
}

func checkValueSet(pack *rulepack.CompiledPack, sectionID string, f rulepack.Field, v any) (Issue, bool) {
	vs := pack.ValueSets[f.ValueSetRef]
	s, ok := v.(string)
	if ok && vs.Contains(s) {
		return Issue{}, false
	}
	if !ok {
		s = fmt.Sprintf("%v", v)
		if vs.Contains(s) {
			return Issue{}, false
		}
	}
	return Issue{
		Severity:     SeverityError,
		FieldPath:    f.Path,
		SectionID:    sectionID,
		Message:      fmt.Sprintf("%s has invalid enumerated value %q", fieldLabel(f), s),
		SuggestedFix: suggest(vs, s),
	}, true
}

func checkType(payload map[string]any, sectionID string, f rulepack.Field, v any) (Issue, bool) {
	fail := func(msg string) (Issue, bool) {
		return Issue{
			Severity:  SeverityError,
			FieldPath: f.Path,
			SectionID: sectionID,
			Message:   msg,
		}, true
	}

	switch f.Type {
	case rulepack.TypeNumber:
		n, ok := asNumber(v)
		if !ok {
			return fail(fmt.Sprintf("%s must be a number", fieldLabel(f)))
		}
		if n < 0 {
			return fail(fmt.Sprintf("%s must be non-negative", fieldLabel(f)))
		}
	case rulepack.TypeDatetime:
		t, ok := asTime(v)
		if !ok {
			return fail(fmt.Sprintf("%s must be a valid datetime", fieldLabel(f)))
		}
		if f.NotBefore != "" {
			if sv, found := resolve(payload, f.NotBefore); found {
				if start, ok := asTime(sv); ok && t.Before(start) {
					return fail(fmt.Sprintf("%s must not precede %s", fieldLabel(f), f.NotBefore))
				}
			}
		}
	case rulepack.TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fail(fmt.Sprintf("%s must be a boolean", fieldLabel(f)))
		}
	case rulepack.TypeList:
		if _, ok := v.([]any); !ok {
			return fail(fmt.Sprintf("%s must be a list", fieldLabel(f)))
		}
	case rulepack.TypeObject:
		if _, ok := v.(map[string]any); !ok {
			return fail(fmt.Sprintf("%s must be an object", fieldLabel(f)))
		}
	case rulepack.TypeString:
		if _, ok := v.(string); !ok {
			return fail(fmt.Sprintf("%s must be a string", fieldLabel(f)))
		}
	}
	return Issue{}, false
}

func evaluatePresence(payload map[string]any, sectionID string, pc rulepack.PresenceCheck) (Issue, bool) {
	fail := Issue{
		Severity:  SeverityError,
		SectionID: sectionID,
		Message:   pc.Message,
	}

	v, found := resolve(payload, pc.ListPath)
	list, ok := v.([]any)
	if !found || !ok {
		return fail, true
	}

	minEntries := pc.MinEntries
	if minEntries == 0 {
		minEntries = 1
	}
	if len(list) < minEntries {
		return fail, true
	}

	if pc.EntryField != "" {
		for _, entry := range list {
			em, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			ev, found := resolve(em, pc.EntryField)
			if !absent(ev, found) {
				return Issue{}, false
			}
		}
		return fail, true
	}
	return Issue{}, false
}

func fieldLabel(f rulepack.Field) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Path
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
