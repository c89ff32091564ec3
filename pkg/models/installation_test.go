package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/aster/pkg/database"
)

func TestInstallationSettingEnabled(t *testing.T) {
	inst := &Installation{
		Settings: database.NewJSONB(map[string]any{
			SettingSentimentEnabled:   true,
			SettingSuggestionsEnabled: false,
			"some_string":             "yes",
		}),
	}

	assert.True(t, inst.SentimentEnabled())
	assert.False(t, inst.SuggestionsEnabled())

	// Non-boolean and missing values read as disabled
	assert.False(t, inst.SettingEnabled("some_string"))
	assert.False(t, inst.SettingEnabled("missing"))
}

func TestInstallationSettingEnabledNilSettings(t *testing.T) {
	inst := &Installation{}
	assert.False(t, inst.SentimentEnabled())
	assert.False(t, inst.SuggestionsEnabled())
}

func TestInstallationSecretsNeverSerialize(t *testing.T) {
	refresh := "refresh-token"
	inst := &Installation{
		ID:            "inst-1",
		Subdomain:     "acme",
		WebhookSecret: "super-secret",
		AccessToken:   "access-token",
		RefreshToken:  &refresh,
	}

	raw, err := json.Marshal(inst)
	require.NoError(t, err)

	assert.NotContains(t, string(raw), "super-secret")
	assert.NotContains(t, string(raw), "access-token")
	assert.NotContains(t, string(raw), "refresh-token")
	assert.Contains(t, string(raw), "acme")
}
