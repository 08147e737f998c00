// Package validation implements the pure, deterministic rule-pack
// interpreter: (record payload, compiled pack) -> ValidationResult.
package validation

// Severity classifies an issue. Only errors block validity; warnings are
// advisories surfaced to the caller but never gate export.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single validation finding. The JSON field names are a stable
// contract consumed verbatim by presentation layers; renaming any of them
// is a breaking change.
type Issue struct {
	Severity     Severity `json:"severity"`
	FieldPath    string   `json:"fieldPath,omitempty"`
	SectionID    string   `json:"sectionId,omitempty"`
	Message      string   `json:"message"`
	SuggestedFix []string `json:"suggestedFix,omitempty"`
}

// Result is the outcome of one evaluation. It carries no timestamps or
// identifiers of its own: identical inputs produce byte-identical results.
type Result struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`

	// ComputedFingerprint is the canonical-payload hash the record must
	// still match at export time.
	ComputedFingerprint string `json:"computedFingerprint"`

	// PackID and PackVersion record which pack produced this result, so
	// a briefly-stale pack cache is auditable rather than silent.
	PackID      string `json:"packId"`
	PackVersion string `json:"packVersion"`
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}
