package flow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/FlowPipe/internal/models"
)

func def(id models.FlowType, version string, active bool) *Definition {
	return &Definition{ID: id, Version: version, Active: active, Steps: Steps{models.StepStart: reply("x", "", nil, false)}}
}

func TestNewRegistry_ResolvesActiveVersion(t *testing.T) {
	reg, err := NewRegistry([]*Definition{
		def(models.FlowBilling, "v1", false),
		def(models.FlowBilling, "v2", true),
		def(models.FlowUnknown, "v1", true),
	}, nil, []models.FlowType{models.FlowBilling, models.FlowUnknown})
	require.NoError(t, err)

	d, ok := reg.Get(models.FlowBilling)
	require.True(t, ok)
	assert.Equal(t, "v2", d.Version)
	assert.Equal(t, map[models.FlowType]string{models.FlowBilling: "v2", models.FlowUnknown: "v1"}, reg.Versions())
}

func TestNewRegistry_OverrideWins(t *testing.T) {
	reg, err := NewRegistry([]*Definition{
		def(models.FlowBilling, "v1", false),
		def(models.FlowBilling, "v2", true),
	}, map[string]string{"billing": "v1"}, nil)
	require.NoError(t, err)
	d, _ := reg.Get(models.FlowBilling)
	assert.Equal(t, "v1", d.Version)
}

func TestNewRegistry_Violations(t *testing.T) {
	tests := []struct {
		name      string
		defs      []*Definition
		overrides map[string]string
		routable  []models.FlowType
		reason    string
	}{
		{
			name:   "two active versions",
			defs:   []*Definition{def(models.FlowBilling, "v1", true), def(models.FlowBilling, "v2", true)},
			reason: "more than one active version",
		},
		{
			name:   "no active version",
			defs:   []*Definition{def(models.FlowBilling, "v1", false)},
			reason: "no active version",
		},
		{
			name:      "override to unknown version",
			defs:      []*Definition{def(models.FlowBilling, "v1", true)},
			overrides: map[string]string{"billing": "v9"},
			reason:    "unknown version v9",
		},
		{
			name:      "override for unregistered flow",
			defs:      []*Definition{def(models.FlowBilling, "v1", true)},
			overrides: map[string]string{"nope": "v1"},
			reason:    "unregistered flow",
		},
		{
			name:     "routable flow missing",
			defs:     []*Definition{def(models.FlowBilling, "v1", true)},
			routable: []models.FlowType{models.FlowGeneralSupport},
			reason:   "no registered version",
		},
		{
			name:   "duplicate version",
			defs:   []*Definition{def(models.FlowBilling, "v1", true), def(models.FlowBilling, "v1", false)},
			reason: "registered twice",
		},
		{
			name: "subroute entry without handler",
			defs: []*Definition{{
				ID: models.FlowBilling, Version: "v1", Active: true,
				Subroutes: map[string]Subroute{"status": {EntryStep: "ask", Steps: Steps{}}},
			}},
			reason: "entry step",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.defs, tt.overrides, tt.routable)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRegistry))
			var re *RegistryError
			require.ErrorAs(t, err, &re)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}
