package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firelinehq/incidentd/pkg/audit"
	"github.com/firelinehq/incidentd/pkg/export"
	"github.com/firelinehq/incidentd/pkg/record"
	"github.com/firelinehq/incidentd/pkg/rulepack"
	"github.com/firelinehq/incidentd/pkg/validation"
)

const testPackDoc = `{
  "id": "neris-core",
  "jurisdiction": "US-CA",
  "profile": "fire",
  "version": "1.0.0",
  "sections": [
    {
      "id": "basic",
      "fields": [
        {"path": "incident_number", "type": "string", "required": {"always": true}},
        {"path": "incident_type_code", "type": "string", "required": {"always": true}, "valueSetRef": "incident_types"},
        {"path": "start_datetime", "type": "datetime", "required": {"always": true}}
      ]
    }
  ],
  "valueSets": {"incident_types": ["FIRE", "EMS"]}
}`

type harness struct {
	ctrl    *Controller
	records *record.MemoryStore
	packs   *rulepack.Store
	history *MemoryValidationLog
}

func newHarness(t *testing.T, withPack bool) *harness {
	t.Helper()
	records := record.NewMemoryStore()
	packs := rulepack.NewStore(nil, nil)
	if withPack {
		_, err := packs.Activate(context.Background(), []byte(testPackDoc))
		require.NoError(t, err)
	}
	history := NewMemoryValidationLog()
	ctrl := NewController(
		records,
		packs,
		validation.NewEngine(),
		export.NewGenerator(),
		export.NewMemoryStore(),
		history,
		audit.NewLog(nil, nil),
		nil,
	)
	return &harness{ctrl: ctrl, records: records, packs: packs, history: history}
}

func (h *harness) create(t *testing.T, payload map[string]any) *record.IncidentRecord {
	t.Helper()
	rec, err := h.ctrl.Create(context.Background(), CreateRequest{
		TenantID:       "t-1",
		ExternalNumber: "F-2026-0042",
		Jurisdiction:   "US-CA",
		Profile:        "fire",
		Payload:        payload,
	})
	require.NoError(t, err)
	return rec
}

func completePayload() map[string]any {
	return map[string]any{
		"incident_number":    "F-2026-0042",
		"incident_type_code": "FIRE",
		"start_datetime":     "2026-03-01T08:30:00Z",
	}
}

func TestCreate_StartsDraftAtVersionZero(t *testing.T) {
	h := newHarness(t, true)
	rec := h.create(t, completePayload())

	assert.Equal(t, record.StatusDraft, rec.Status)
	assert.Equal(t, int64(0), rec.Version)
	assert.Empty(t, rec.Fingerprint)
}

func TestValidate_InvalidRecordStaysDraft(t *testing.T) {
	h := newHarness(t, true)
	payload := completePayload()
	delete(payload, "start_datetime")
	rec := h.create(t, payload)

	result, err := h.ctrl.Validate(context.Background(), rec.ID)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "start_datetime", result.Issues[0].FieldPath)

	stored, err := h.ctrl.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusDraft, stored.Status)
	assert.Empty(t, stored.Fingerprint)
}

func TestValidate_ValidRecordAdvances(t *testing.T) {
	h := newHarness(t, true)
	rec := h.create(t, completePayload())

	result, err := h.ctrl.Validate(context.Background(), rec.ID)
	require.NoError(t, err)
	require.True(t, result.Valid)

	stored, err := h.ctrl.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusValidated, stored.Status)
	assert.Equal(t, result.ComputedFingerprint, stored.Fingerprint)
	assert.NotNil(t, stored.LastValidatedAt)

	t.Run("run persisted for audit", func(t *testing.T) {
		entry, err := h.history.Latest(context.Background(), rec.ID)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.True(t, entry.Valid)
		assert.Equal(t, "1.0.0", entry.PackVersion)
	})
}

func TestValidate_NoActivePack(t *testing.T) {
	h := newHarness(t, false)
	rec := h.create(t, completePayload())

	_, err := h.ctrl.Validate(context.Background(), rec.ID)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "rule pack", nf.Kind)
}

// Mutating a validated record demotes it to draft and clears the
// fingerprint; mutating a draft leaves the status alone.
func TestMutate_DemotesValidated(t *testing.T) {
	h := newHarness(t, true)
	rec := h.create(t, completePayload())

	_, err := h.ctrl.Validate(context.Background(), rec.ID)
	require.NoError(t, err)

	updated, err := h.ctrl.Mutate(context.Background(), rec.ID, map[string]any{"narrative": "update"}, 1)
	require.NoError(t, err)
	assert.Equal(t, record.StatusDraft, updated.Status)
	assert.Empty(t, updated.Fingerprint)
	assert.Nil(t, updated.LastValidatedAt)

	t.Run("draft stays draft", func(t *testing.T) {
		again, err := h.ctrl.Mutate(context.Background(), rec.ID, map[string]any{"narrative": "again"}, updated.Version)
		require.NoError(t, err)
		assert.Equal(t, record.StatusDraft, again.Status)
	})
}

// Scenario: two concurrent mutations, the second using a stale version.
func TestMutate_StaleVersionConflicts(t *testing.T) {
	h := newHarness(t, true)
	rec := h.create(t, completePayload())

	_, err := h.ctrl.Mutate(context.Background(), rec.ID, map[string]any{"a": 1}, rec.Version)
	require.NoError(t, err)

	_, err = h.ctrl.Mutate(context.Background(), rec.ID, map[string]any{"b": 2}, rec.Version)
	var conflict *StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, IsRetryable(err))
}

func TestMutate_MissingRecord(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.ctrl.Mutate(context.Background(), "nope", map[string]any{"a": 1}, 0)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestRequestExport_RequiresValidation(t *testing.T) {
	h := newHarness(t, true)
	rec := h.create(t, completePayload())

	_, err := h.ctrl.RequestExport(context.Background(), rec.ID)
	var illegal *IllegalStateError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, ReasonNotValidated, illegal.Reason)
	assert.False(t, IsRetryable(err))
}

func TestRequestExport_StaleFingerprint(t *testing.T) {
	h := newHarness(t, true)
	rec := h.create(t, completePayload())
	_, err := h.ctrl.Validate(context.Background(), rec.ID)
	require.NoError(t, err)

	// Corrupt the payload behind the controller's back while leaving the
	// status flag at validated: the client-optimistic status must not be
	// trusted over the fingerprint comparison.
	stored, err := h.records.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	stored.Payload["incident_number"] = "tampered"
	require.NoError(t, h.records.Update(context.Background(), stored, stored.Version))

	_, err = h.ctrl.RequestExport(context.Background(), rec.ID)
	var illegal *IllegalStateError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, ReasonStaleFingerprint, illegal.Reason)
}

func TestRequestExport_NoActivePack(t *testing.T) {
	h := newHarness(t, true)
	rec := h.create(t, completePayload())
	_, err := h.ctrl.Validate(context.Background(), rec.ID)
	require.NoError(t, err)

	// Pack disappears for a different scope lookup: simulate by pointing
	// the record at a scope that has no active pack.
	stored, err := h.records.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	stored.Jurisdiction = "US-NV"
	require.NoError(t, h.records.Update(context.Background(), stored, stored.Version))

	_, err = h.ctrl.RequestExport(context.Background(), rec.ID)
	var illegal *IllegalStateError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, ReasonNoActivePack, illegal.Reason)
}

func TestRequestExport_SuccessAndIdempotency(t *testing.T) {
	h := newHarness(t, true)
	rec := h.create(t, completePayload())
	result, err := h.ctrl.Validate(context.Background(), rec.ID)
	require.NoError(t, err)

	first, err := h.ctrl.RequestExport(context.Background(), rec.ID)
	require.NoError(t, err)

	assert.Equal(t, result.ComputedFingerprint, first.SourceFingerprint)
	assert.NotEmpty(t, first.Body)
	assert.Equal(t, export.FormatJSON, first.Format)

	stored, err := h.ctrl.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, record.StatusExported, stored.Status)

	t.Run("re-request returns the retained artifact byte-identically", func(t *testing.T) {
		second, err := h.ctrl.RequestExport(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, first.Body, second.Body)
		assert.Equal(t, first.ContentHash, second.ContentHash)
		assert.Equal(t, first.GeneratedAt, second.GeneratedAt)
	})
}

// Scenario: validate, mutate an unrelated field, re-validate with the same
// payload shape, export. The demotion and the fresh cycle must both work.
func TestLifecycle_EditAfterValidationStartsFreshCycle(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	rec := h.create(t, completePayload())

	_, err := h.ctrl.Validate(ctx, rec.ID)
	require.NoError(t, err)

	_, err = h.ctrl.Mutate(ctx, rec.ID, map[string]any{"narrative": "wind-driven"}, 1)
	require.NoError(t, err)

	stored, err := h.ctrl.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, record.StatusDraft, stored.Status)

	result, err := h.ctrl.Validate(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, result.Valid)

	artifact, err := h.ctrl.RequestExport(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, result.ComputedFingerprint, artifact.SourceFingerprint)
}

// Edits to an exported record open a new cycle; the prior artifact stays.
func TestLifecycle_EditAfterExport(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	rec := h.create(t, completePayload())

	_, err := h.ctrl.Validate(ctx, rec.ID)
	require.NoError(t, err)
	firstArtifact, err := h.ctrl.RequestExport(ctx, rec.ID)
	require.NoError(t, err)

	stored, err := h.ctrl.Get(ctx, rec.ID)
	require.NoError(t, err)
	_, err = h.ctrl.Mutate(ctx, rec.ID, map[string]any{"incident_number": "F-2026-0043"}, stored.Version)
	require.NoError(t, err)

	result, err := h.ctrl.Validate(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, result.Valid)

	secondArtifact, err := h.ctrl.RequestExport(ctx, rec.ID)
	require.NoError(t, err)

	assert.NotEqual(t, firstArtifact.SourceFingerprint, secondArtifact.SourceFingerprint)
	assert.NotEqual(t, firstArtifact.ContentHash, secondArtifact.ContentHash)
}

// Two records with identical payloads fingerprint identically; the
// fingerprint is a function of content alone.
func TestExport_FingerprintIsContentAddressed(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	clock := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	h.ctrl.WithClock(clock)

	recA := h.create(t, completePayload())
	recB := h.create(t, completePayload())

	for _, id := range []string{recA.ID, recB.ID} {
		_, err := h.ctrl.Validate(ctx, id)
		require.NoError(t, err)
	}
	a, err := h.ctrl.RequestExport(ctx, recA.ID)
	require.NoError(t, err)
	b, err := h.ctrl.RequestExport(ctx, recB.ID)
	require.NoError(t, err)

	// Same fingerprints, different incident identity: bodies differ only
	// by the id fields, hashes of payload match.
	assert.Equal(t, a.SourceFingerprint, b.SourceFingerprint)
	assert.Equal(t, a.PackVersion, b.PackVersion)
}

type captureSink struct {
	events []audit.Event
}

func (c *captureSink) Append(_ context.Context, ev audit.Event) error {
	c.events = append(c.events, ev)
	return nil
}

// Pack activation must leave an audit event like every other write.
func TestActivatePack_RecordsAuditEvent(t *testing.T) {
	sink := &captureSink{}
	packs := rulepack.NewStore(nil, nil)
	ctrl := NewController(
		record.NewMemoryStore(),
		packs,
		validation.NewEngine(),
		export.NewGenerator(),
		export.NewMemoryStore(),
		NewMemoryValidationLog(),
		audit.NewLog(sink, nil),
		nil,
	)

	compiled, err := ctrl.ActivatePack(context.Background(), []byte(testPackDoc))
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", compiled.Pack.Version)

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, audit.ActionPackActivated, ev.Action)
	assert.Equal(t, "neris-core", ev.Resource)
	assert.Equal(t, "US-CA", ev.Metadata["jurisdiction"])
	assert.Equal(t, "1.0.0", ev.Metadata["version"])

	t.Run("rejected documents are not recorded", func(t *testing.T) {
		_, err := ctrl.ActivatePack(context.Background(), []byte(`{"id":"x"}`))
		assert.ErrorIs(t, err, rulepack.ErrInvalidPack)
		assert.Len(t, sink.events, 1)
	})
}

// Payload bounds hold on the write path, not only at validation time.
func TestPayloadBoundsEnforcedOnWrites(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	t.Run("create rejects oversized payload", func(t *testing.T) {
		list := make([]any, validation.DefaultMaxLeaves+1)
		for i := range list {
			list[i] = i
		}
		_, err := h.ctrl.Create(ctx, CreateRequest{
			TenantID: "t-1", Jurisdiction: "US-CA", Profile: "fire",
			Payload: map[string]any{"units": list},
		})
		assert.ErrorIs(t, err, validation.ErrPayloadTooLarge)
	})

	t.Run("mutate rejects a patch nesting too deep", func(t *testing.T) {
		rec := h.create(t, completePayload())

		patch := map[string]any{}
		cur := patch
		for i := 0; i < validation.DefaultMaxDepth+1; i++ {
			next := map[string]any{}
			cur[fmt.Sprintf("n%d", i)] = next
			cur = next
		}
		_, err := h.ctrl.Mutate(ctx, rec.ID, patch, rec.Version)
		assert.ErrorIs(t, err, validation.ErrPayloadTooDeep)

		stored, err := h.ctrl.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stored.Version, "rejected patch must not write")
	})
}

func TestGet_NotFound(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.ctrl.Get(context.Background(), "missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.False(t, errors.Is(err, record.ErrNotFound))
}
