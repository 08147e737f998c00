package rulepack

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docFromPack(p *RulePack) ([]byte, error) {
	return json.Marshal(p)
}

const basicPackDoc = `{
  "id": "neris-core",
  "jurisdiction": "US-CA",
  "profile": "fire",
  "version": "1.2.0",
  "sections": [
    {
      "id": "basic",
      "label": "Basic Information",
      "fields": [
        {"path": "incident_number", "label": "Incident Number", "type": "string", "required": {"always": true}},
        {"path": "incident_type_code", "label": "Incident Type", "type": "string", "required": {"always": true}, "valueSetRef": "incident_types"},
        {"path": "aid_type", "label": "Aid Type", "type": "string", "required": {"if": "payload.incident_type_code == \"MUTUAL_AID\""}}
      ]
    }
  ],
  "valueSets": {
    "incident_types": ["FIRE", "EMS", "MUTUAL_AID"]
  }
}`

func TestParseAndCompile(t *testing.T) {
	p, err := Parse([]byte(basicPackDoc))
	require.NoError(t, err)

	compiled, err := Compile(p)
	require.NoError(t, err)

	assert.Equal(t, "neris-core", compiled.Pack.ID)
	assert.Equal(t, "1.2.0", compiled.Semver.String())
	assert.True(t, compiled.ValueSets["incident_types"].Contains("FIRE"))
	assert.NotNil(t, compiled.Predicate("aid_type"))
	assert.Nil(t, compiled.Predicate("incident_number"))
}

func TestParse_RejectsMalformedDocument(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"id": `,
		"missing version": `{"id": "x", "jurisdiction": "US", "profile": "fire", "sections": []}`,
		"bad field type":  `{"id": "x", "jurisdiction": "US", "profile": "fire", "version": "1.0.0", "sections": [{"id": "s", "fields": [{"path": "p", "type": "decimal"}]}]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestCompile_RejectsBrokenInvariants(t *testing.T) {
	t.Run("duplicate field path", func(t *testing.T) {
		p := &RulePack{
			ID: "p", Jurisdiction: "US", Profile: "fire", Version: "1.0.0",
			Sections: []Section{{ID: "s", Fields: []Field{
				{Path: "a", Type: TypeString},
				{Path: "a", Type: TypeNumber},
			}}},
		}
		_, err := Compile(p)
		assert.ErrorContains(t, err, "duplicate field path")
	})

	t.Run("unresolved value set", func(t *testing.T) {
		p := &RulePack{
			ID: "p", Jurisdiction: "US", Profile: "fire", Version: "1.0.0",
			Sections: []Section{{ID: "s", Fields: []Field{
				{Path: "a", Type: TypeString, ValueSetRef: "missing"},
			}}},
		}
		_, err := Compile(p)
		assert.ErrorContains(t, err, "unknown value set")
	})

	t.Run("non-semver version", func(t *testing.T) {
		p := &RulePack{ID: "p", Jurisdiction: "US", Profile: "fire", Version: "latest"}
		_, err := Compile(p)
		assert.ErrorContains(t, err, "not semver")
	})

	t.Run("predicate must be bool", func(t *testing.T) {
		p := &RulePack{
			ID: "p", Jurisdiction: "US", Profile: "fire", Version: "1.0.0",
			Sections: []Section{{ID: "s", Fields: []Field{
				{Path: "a", Type: TypeString, Required: Requirement{If: `"a string"`}},
			}}},
		}
		_, err := Compile(p)
		assert.ErrorContains(t, err, "must evaluate to bool")
	})

	t.Run("dangling notBefore", func(t *testing.T) {
		p := &RulePack{
			ID: "p", Jurisdiction: "US", Profile: "fire", Version: "1.0.0",
			Sections: []Section{{ID: "s", Fields: []Field{
				{Path: "end", Type: TypeDatetime, NotBefore: "start"},
			}}},
		}
		_, err := Compile(p)
		assert.ErrorContains(t, err, "notBefore target")
	})
}

func TestPredicate_Eval(t *testing.T) {
	pred, err := CompilePredicate(`payload.incident_type_code == "MUTUAL_AID"`)
	require.NoError(t, err)

	assert.True(t, pred.Eval(map[string]any{"incident_type_code": "MUTUAL_AID"}))
	assert.False(t, pred.Eval(map[string]any{"incident_type_code": "FIRE"}))
	// Undecidable predicates never force requiredness.
	assert.False(t, pred.Eval(map[string]any{}))
}

func TestStore_ActivateAndGet(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()

	_, err := s.GetActive(ctx, "US-CA", "fire")
	assert.ErrorIs(t, err, ErrNoActivePack)

	_, err = s.Activate(ctx, []byte(basicPackDoc))
	require.NoError(t, err)

	got, err := s.GetActive(ctx, "US-CA", "fire")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", got.Pack.Version)

	// Scope is (jurisdiction, profile), not jurisdiction alone.
	_, err = s.GetActive(ctx, "US-CA", "ems")
	assert.ErrorIs(t, err, ErrNoActivePack)
}

func TestStore_SwapIsAtomicPerScope(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()

	_, err := s.Activate(ctx, []byte(basicPackDoc))
	require.NoError(t, err)

	p, err := Parse([]byte(basicPackDoc))
	require.NoError(t, err)
	p.Version = "1.3.0"
	p.ValueSets["incident_types"] = append(p.ValueSets["incident_types"], "EXPLOSION")
	doc, err := docFromPack(p)
	require.NoError(t, err)

	_, err = s.Activate(ctx, doc)
	require.NoError(t, err)

	got, err := s.GetActive(ctx, "US-CA", "fire")
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", got.Pack.Version)
	assert.True(t, got.ValueSets["incident_types"].Contains("EXPLOSION"))
}

func TestStore_RejectsRepublishedVersionWithNewContent(t *testing.T) {
	ctx := context.Background()
	activated := func(t *testing.T) *Store {
		t.Helper()
		s := NewStore(nil, nil)
		_, err := s.Activate(ctx, []byte(basicPackDoc))
		require.NoError(t, err)
		return s
	}

	t.Run("changed sections", func(t *testing.T) {
		s := activated(t)
		p, err := Parse([]byte(basicPackDoc))
		require.NoError(t, err)
		p.Sections[0].Fields = p.Sections[0].Fields[:1]
		doc, err := docFromPack(p)
		require.NoError(t, err)

		_, err = s.Activate(ctx, doc)
		assert.ErrorContains(t, err, "already active with different content")
		assert.ErrorIs(t, err, ErrInvalidPack)
	})

	t.Run("changed value sets", func(t *testing.T) {
		s := activated(t)
		p, err := Parse([]byte(basicPackDoc))
		require.NoError(t, err)
		p.ValueSets["incident_types"] = []string{"FIRE"}
		doc, err := docFromPack(p)
		require.NoError(t, err)

		_, err = s.Activate(ctx, doc)
		assert.ErrorContains(t, err, "already active with different content")

		// The original content stays active.
		got, err := s.GetActive(ctx, "US-CA", "fire")
		require.NoError(t, err)
		assert.True(t, got.ValueSets["incident_types"].Contains("EMS"))
	})
}

func TestDocumentFromYAML(t *testing.T) {
	yamlDoc := []byte(`
id: neris-core
jurisdiction: US-CA
profile: fire
version: 1.0.0
sections:
  - id: basic
    fields:
      - path: incident_number
        type: string
        required:
          always: true
valueSets:
  incident_types: [FIRE, EMS]
`)
	doc, err := DocumentFromYAML(yamlDoc)
	require.NoError(t, err)

	p, err := Parse(doc)
	require.NoError(t, err)
	assert.Equal(t, "neris-core", p.ID)
	assert.Equal(t, []string{"FIRE", "EMS"}, p.ValueSets["incident_types"])
}
