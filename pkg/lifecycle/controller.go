// Package lifecycle enforces the draft → validated → exported state machine
// over incident records. All record mutations flow through the Controller;
// export is gated on "currently valid, currently unmodified", proven by
// fingerprint comparison rather than trusted from any status flag.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/firelinehq/incidentd/pkg/audit"
	"github.com/firelinehq/incidentd/pkg/canonical"
	"github.com/firelinehq/incidentd/pkg/export"
	"github.com/firelinehq/incidentd/pkg/record"
	"github.com/firelinehq/incidentd/pkg/rulepack"
	"github.com/firelinehq/incidentd/pkg/validation"
)

// Controller mediates every Record Store mutation. Concurrency control is
// optimistic: each write compare-and-swaps on the record version, so
// concurrent callers against the same record serialize without any global
// lock.
type Controller struct {
	records   record.Store
	packs     *rulepack.Store
	engine    *validation.Engine
	generator *export.Generator
	artifacts export.Store
	history   ValidationLog
	trail     *audit.Log
	logger    *slog.Logger
	clock     func() time.Time
}

// NewController wires the lifecycle over its collaborators.
func NewController(
	records record.Store,
	packs *rulepack.Store,
	engine *validation.Engine,
	generator *export.Generator,
	artifacts export.Store,
	history ValidationLog,
	trail *audit.Log,
	logger *slog.Logger,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		records:   records,
		packs:     packs,
		engine:    engine,
		generator: generator,
		artifacts: artifacts,
		history:   history,
		trail:     trail,
		logger:    logger,
		clock:     time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *Controller) WithClock(clock func() time.Time) *Controller {
	c.clock = clock
	return c
}

// CreateRequest carries the inputs for a new draft record.
type CreateRequest struct {
	TenantID       string         `json:"tenantId"`
	ExternalNumber string         `json:"externalNumber"`
	Jurisdiction   string         `json:"jurisdiction"`
	Profile        string         `json:"profile"`
	Payload        map[string]any `json:"payload"`
}

// Create opens a new draft record at version 0.
func (c *Controller) Create(ctx context.Context, req CreateRequest) (*record.IncidentRecord, error) {
	now := c.clock().UTC()
	rec := &record.IncidentRecord{
		ID:             uuid.New().String(),
		TenantID:       req.TenantID,
		ExternalNumber: req.ExternalNumber,
		Jurisdiction:   req.Jurisdiction,
		Profile:        req.Profile,
		Status:         record.StatusDraft,
		Payload:        req.Payload,
		Version:        0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if rec.Payload == nil {
		rec.Payload = map[string]any{}
	}
	if err := validation.CheckPayloadBounds(rec.Payload); err != nil {
		return nil, err
	}
	if err := c.records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("lifecycle: create: %w", err)
	}
	if err := c.trail.Record(ctx, rec.TenantID, audit.ActionRecordCreated, rec.ID, map[string]any{
		"externalNumber": rec.ExternalNumber,
	}); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Get loads a record.
func (c *Controller) Get(ctx context.Context, id string) (*record.IncidentRecord, error) {
	rec, err := c.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return nil, &NotFoundError{Kind: "record", ID: id}
		}
		return nil, err
	}
	return rec, nil
}

// Mutate applies an RFC 7386 merge patch to the record payload under
// compare-and-swap. A record that was validated or exported is demoted to
// draft and its fingerprint cleared: an export must never reflect data
// edited after its last successful validation, and edits to an exported
// record start a fresh cycle while the prior artifact stays on file.
func (c *Controller) Mutate(ctx context.Context, id string, patch map[string]any, expectedVersion int64) (*record.IncidentRecord, error) {
	rec, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Version != expectedVersion {
		return nil, &StateConflictError{RecordID: id, ExpectedVersion: expectedVersion}
	}

	patched := record.MergePatch(rec.Payload, patch)
	if err := validation.CheckPayloadBounds(patched); err != nil {
		return nil, err
	}

	demoted := rec.Status != record.StatusDraft
	rec.Payload = patched
	rec.Status = record.StatusDraft
	rec.Fingerprint = ""
	rec.LastValidatedAt = nil
	rec.UpdatedAt = c.clock().UTC()

	if err := c.update(ctx, rec, expectedVersion); err != nil {
		return nil, err
	}

	if err := c.trail.Record(ctx, rec.TenantID, audit.ActionRecordMutated, rec.ID, map[string]any{
		"version": rec.Version,
	}); err != nil {
		return nil, err
	}
	if demoted {
		if err := c.trail.Record(ctx, rec.TenantID, audit.ActionRecordDemoted, rec.ID, nil); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// ActivatePack validates, persists and swaps in a rule pack document, and
// records the activation on the audit trail. Pack activation is the one
// admin-facing write in the system; it must leave the same compliance
// footprint as record writes.
func (c *Controller) ActivatePack(ctx context.Context, doc []byte) (*rulepack.CompiledPack, error) {
	compiled, err := c.packs.Activate(ctx, doc)
	if err != nil {
		return nil, err
	}
	p := compiled.Pack
	if err := c.trail.Record(ctx, "", audit.ActionPackActivated, p.ID, map[string]any{
		"jurisdiction": p.Jurisdiction,
		"profile":      p.Profile,
		"version":      p.Version,
	}); err != nil {
		return nil, err
	}
	return compiled, nil
}

// Validate runs the engine against the active pack. On a valid result the
// record advances to validated and stores the computed fingerprint; on an
// invalid one the record stays draft and the issues are returned
// unmodified. Every run is persisted to the validation log, warnings
// included, for audit.
func (c *Controller) Validate(ctx context.Context, id string) (*validation.Result, error) {
	rec, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pack, err := c.packs.GetActive(ctx, rec.Jurisdiction, rec.Profile)
	if err != nil {
		if errors.Is(err, rulepack.ErrNoActivePack) {
			return nil, &NotFoundError{Kind: "rule pack", ID: rec.Jurisdiction + "/" + rec.Profile}
		}
		return nil, err
	}

	result, err := c.engine.Evaluate(rec, pack)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: validate %s: %w", id, err)
	}

	if err := c.history.Append(ctx, ValidationEntry{
		ID:          uuid.New().String(),
		RecordID:    rec.ID,
		PackID:      result.PackID,
		PackVersion: result.PackVersion,
		Valid:       result.Valid,
		Fingerprint: result.ComputedFingerprint,
		Issues:      result.Issues,
		CreatedAt:   c.clock().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("lifecycle: validation log: %w", err)
	}

	if !result.Valid {
		return result, nil
	}

	now := c.clock().UTC()
	expected := rec.Version
	rec.Status = record.StatusValidated
	rec.Fingerprint = result.ComputedFingerprint
	rec.LastValidatedAt = &now
	rec.UpdatedAt = now
	if err := c.update(ctx, rec, expected); err != nil {
		// A concurrent mutation landed between evaluation and the write;
		// the result no longer describes the stored payload.
		return nil, err
	}

	if err := c.trail.Record(ctx, rec.TenantID, audit.ActionRecordValidated, rec.ID, map[string]any{
		"fingerprint": rec.Fingerprint,
		"packVersion": result.PackVersion,
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// RequestExport gates artifact generation on the cross-request invariant:
// the record must be validated AND its current payload must still hash to
// the stored fingerprint. Freshness holds at the moment of the write, not
// merely at the start of the request: the final compare-and-swap fails if
// any mutation landed after our read, closing the validate→mutate→export
// race. Re-requesting an export for an unchanged fingerprint returns the
// stored artifact.
func (c *Controller) RequestExport(ctx context.Context, id string) (*export.Artifact, error) {
	rec, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if rec.Status == record.StatusExported {
		a, err := c.artifacts.Find(ctx, rec.ID, rec.Fingerprint)
		if err != nil {
			if errors.Is(err, export.ErrArtifactNotFound) {
				return nil, &ExportError{RecordID: id, Err: fmt.Errorf("exported record has no artifact for fingerprint %s", rec.Fingerprint)}
			}
			return nil, err
		}
		return a, nil
	}
	if rec.Status != record.StatusValidated {
		return nil, &IllegalStateError{
			RecordID: id,
			Reason:   ReasonNotValidated,
			Detail:   fmt.Sprintf("record is %s; validate before export", rec.Status),
		}
	}

	currentHash, err := canonical.Hash(rec.Payload)
	if err != nil {
		return nil, &ExportError{RecordID: id, Err: err}
	}
	if currentHash != rec.Fingerprint {
		return nil, &IllegalStateError{
			RecordID: id,
			Reason:   ReasonStaleFingerprint,
			Detail:   "payload changed since last successful validation; re-validate before export",
		}
	}

	pack, err := c.packs.GetActive(ctx, rec.Jurisdiction, rec.Profile)
	if err != nil {
		if errors.Is(err, rulepack.ErrNoActivePack) {
			return nil, &IllegalStateError{
				RecordID: id,
				Reason:   ReasonNoActivePack,
				Detail:   fmt.Sprintf("no active pack for %s/%s", rec.Jurisdiction, rec.Profile),
			}
		}
		return nil, err
	}

	artifact, err := c.generator.Generate(rec, pack, export.FormatJSON)
	if err != nil {
		return nil, &ExportError{RecordID: id, Err: err}
	}
	// Content-addressed per fingerprint, so persisting before the status
	// swap is safe: a retry after a failed swap lands on the same row.
	stored, err := c.artifacts.Put(ctx, artifact)
	if err != nil {
		return nil, &ExportError{RecordID: id, Err: err}
	}

	expected := rec.Version
	rec.Status = record.StatusExported
	rec.UpdatedAt = c.clock().UTC()
	if err := c.update(ctx, rec, expected); err != nil {
		return nil, err
	}

	if err := c.trail.Record(ctx, rec.TenantID, audit.ActionRecordExported, rec.ID, map[string]any{
		"contentHash":       stored.ContentHash,
		"sourceFingerprint": stored.SourceFingerprint,
		"packVersion":       stored.PackVersion,
	}); err != nil {
		return nil, err
	}
	return stored, nil
}

// update maps store errors to the lifecycle taxonomy.
func (c *Controller) update(ctx context.Context, rec *record.IncidentRecord, expectedVersion int64) error {
	err := c.records.Update(ctx, rec, expectedVersion)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, record.ErrVersionConflict):
		return &StateConflictError{RecordID: rec.ID, ExpectedVersion: expectedVersion}
	case errors.Is(err, record.ErrNotFound):
		return &NotFoundError{Kind: "record", ID: rec.ID}
	default:
		return fmt.Errorf("lifecycle: update %s: %w", rec.ID, err)
	}
}
