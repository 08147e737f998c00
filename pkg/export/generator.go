package export

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/firelinehq/incidentd/pkg/canonical"
	"github.com/firelinehq/incidentd/pkg/record"
	"github.com/firelinehq/incidentd/pkg/rulepack"
)

// envelope is the logical content of an artifact. Everything in it derives
// from (payload, pack version); no timestamps or random identifiers, so the
// canonical bytes are reproducible for audit.
type envelope struct {
	IncidentID     string         `json:"incidentId"`
	ExternalNumber string         `json:"externalNumber"`
	TenantID       string         `json:"tenantId"`
	Jurisdiction   string         `json:"jurisdiction"`
	Profile        string         `json:"profile"`
	PackID         string         `json:"packId"`
	PackVersion    string         `json:"packVersion"`
	Payload        map[string]any `json:"payload"`
}

// Generator renders export artifacts.
type Generator struct {
	clock func() time.Time
}

// NewGenerator creates a Generator using the wall clock.
func NewGenerator() *Generator {
	return &Generator{clock: time.Now}
}

// WithClock overrides the clock for deterministic testing. GeneratedAt is
// row metadata only; it never enters the artifact bytes.
func (g *Generator) WithClock(clock func() time.Time) *Generator {
	g.clock = clock
	return g
}

// Generate renders the artifact for a validated record against the pack
// version it was validated with. The same (payload, pack version) pair
// always yields byte-identical Body and ContentHash.
func (g *Generator) Generate(rec *record.IncidentRecord, pack *rulepack.CompiledPack, format string) (*Artifact, error) {
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	body, err := canonical.JSON(envelope{
		IncidentID:     rec.ID,
		ExternalNumber: rec.ExternalNumber,
		TenantID:       rec.TenantID,
		Jurisdiction:   rec.Jurisdiction,
		Profile:        rec.Profile,
		PackID:         pack.Pack.ID,
		PackVersion:    pack.Pack.Version,
		Payload:        rec.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("export: render failed: %w", err)
	}

	return &Artifact{
		ID:                uuid.New().String(),
		IncidentID:        rec.ID,
		GeneratedAt:       g.clock().UTC(),
		Format:            format,
		ContentHash:       canonical.HashBytes(body),
		SourceFingerprint: rec.Fingerprint,
		PackID:            pack.Pack.ID,
		PackVersion:       pack.Pack.Version,
		Body:              body,
	}, nil
}
