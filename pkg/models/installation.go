package models

import (
	"time"

	"github.com/Ramsey-B/aster/pkg/database"
)

// Settings feature flags carried on an installation.
const (
	SettingSentimentEnabled   = "sentiment_enabled"
	SettingSuggestionsEnabled = "suggestions_enabled"
)

// Installation binds one Zendesk account/app pairing to its webhook secret and
// OAuth tokens. Secrets never serialize to JSON.
type Installation struct {
	ID            string                         `db:"id" json:"id"`
	Subdomain     string                         `db:"subdomain" json:"subdomain"`
	AppID         string                         `db:"app_id" json:"app_id"`
	UserID        string                         `db:"user_id" json:"user_id"`
	WebhookSecret string                         `db:"webhook_secret" json:"-"`
	AccessToken   string                         `db:"access_token" json:"-"`
	RefreshToken  *string                        `db:"refresh_token" json:"-"`
	Settings      database.JSONB[map[string]any] `db:"settings" json:"settings"`
	LastActiveAt  *time.Time                     `db:"last_active_at" json:"last_active_at,omitempty"`
	CreatedAt     time.Time                      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time                      `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Installation) TableName() string {
	return "installations"
}

// SettingEnabled reports whether the named feature flag is set to true.
// Missing or non-boolean values read as disabled.
func (i *Installation) SettingEnabled(key string) bool {
	if i.Settings.Data == nil {
		return false
	}
	value, ok := i.Settings.Data[key]
	if !ok {
		return false
	}
	enabled, ok := value.(bool)
	return ok && enabled
}

func (i *Installation) SentimentEnabled() bool {
	return i.SettingEnabled(SettingSentimentEnabled)
}

func (i *Installation) SuggestionsEnabled() bool {
	return i.SettingEnabled(SettingSuggestionsEnabled)
}
