package record

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergePatch(t *testing.T) {
	target := map[string]any{
		"incident_number": "F-100",
		"location": map[string]any{
			"city":  "Fresno",
			"state": "CA",
		},
		"units": []any{map[string]any{"unit_id": "E-12"}},
	}

	patched := MergePatch(target, map[string]any{
		"incident_number": "F-101",
		"location":        map[string]any{"city": "Clovis"},
		"units":           []any{},
		"narrative":       nil,
	})

	t.Run("scalar replaced", func(t *testing.T) {
		assert.Equal(t, "F-101", patched["incident_number"])
	})
	t.Run("nested maps merge", func(t *testing.T) {
		loc := patched["location"].(map[string]any)
		assert.Equal(t, "Clovis", loc["city"])
		assert.Equal(t, "CA", loc["state"])
	})
	t.Run("arrays replace wholesale", func(t *testing.T) {
		assert.Empty(t, patched["units"])
	})
	t.Run("nil deletes", func(t *testing.T) {
		_, ok := patched["narrative"]
		assert.False(t, ok)
	})
	t.Run("target untouched", func(t *testing.T) {
		assert.Equal(t, "F-100", target["incident_number"])
		assert.Len(t, target["units"], 1)
	})
}

func TestMergePatch_NilTarget(t *testing.T) {
	patched := MergePatch(nil, map[string]any{"a": map[string]any{"b": 1}})
	assert.Equal(t, 1, patched["a"].(map[string]any)["b"])
}

func TestDepthAndLeafCount(t *testing.T) {
	payload := map[string]any{
		"a": map[string]any{
			"b": []any{map[string]any{"c": 1}, "x"},
		},
		"d": true,
	}
	assert.Equal(t, 4, Depth(payload))
	assert.Equal(t, 3, LeafCount(payload))
}

func newRec(id string) *IncidentRecord {
	now := time.Now().UTC()
	return &IncidentRecord{
		ID:           id,
		TenantID:     "t-1",
		Jurisdiction: "US-CA",
		Profile:      "fire",
		Status:       StatusDraft,
		Payload:      map[string]any{"incident_number": "F-100"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestMemoryStore_CompareAndSwap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRec("r1")))

	rec, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, int64(0), rec.Version)

	rec.Payload["incident_number"] = "F-200"
	require.NoError(t, s.Update(ctx, rec, 0))
	assert.Equal(t, int64(1), rec.Version)

	t.Run("stale version conflicts", func(t *testing.T) {
		stale := rec.Clone()
		err := s.Update(ctx, stale, 0)
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("missing record", func(t *testing.T) {
		ghost := newRec("ghost")
		assert.ErrorIs(t, s.Update(ctx, ghost, 0), ErrNotFound)
		_, err := s.Get(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRec("r1")))

	a, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	a.Payload["incident_number"] = "tampered"

	b, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "F-100", b.Payload["incident_number"])
}
