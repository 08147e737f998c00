// Package export produces the immutable regulatory export artifacts gated
// by the lifecycle controller. Artifacts are deterministic per
// (payload, pack version) and are retained indefinitely once written.
package export

import (
	"context"
	"errors"
	"time"
)

// FormatJSON is the only artifact container format the generator supports.
// The byte contract is determinism, not a particular schema; callers pick
// their own file naming.
const FormatJSON = "json"

// ErrUnsupportedFormat reports a requested format the generator cannot
// produce. Surfaced to callers as an ExportError.
var ErrUnsupportedFormat = errors.New("export: unsupported format")

// ErrArtifactNotFound reports a missing artifact row.
var ErrArtifactNotFound = errors.New("export: artifact not found")

// Artifact is one generated export. Immutable once created: re-requesting
// an export for the same fingerprint returns this row, never a regenerated
// one.
type Artifact struct {
	ID          string    `json:"id"`
	IncidentID  string    `json:"incidentId"`
	GeneratedAt time.Time `json:"generatedAt"`
	Format      string    `json:"format"`

	// ContentHash is the SHA-256 of Body.
	ContentHash string `json:"contentHash"`
	// SourceFingerprint is the record's payload fingerprint at export
	// time; the audit link between artifact and validated state.
	SourceFingerprint string `json:"sourceFingerprint"`

	PackID      string `json:"packId"`
	PackVersion string `json:"packVersion"`

	Body []byte `json:"-"`
}

// Store persists artifacts. Writes are insert-only; nothing ever deletes
// or rewrites an artifact (compliance retention).
type Store interface {
	// Put stores the artifact. Inserting a second artifact for the same
	// (incidentID, sourceFingerprint) is a no-op returning the stored one.
	Put(ctx context.Context, a *Artifact) (*Artifact, error)
	// Find returns the artifact for (incidentID, sourceFingerprint), or
	// ErrArtifactNotFound.
	Find(ctx context.Context, incidentID, sourceFingerprint string) (*Artifact, error)
}
