package models

import (
	"time"

	"github.com/google/uuid"
)

// Mode selects the test or live processor environment. Each mode carries
// independent credentials and link state.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

// ParseMode returns the Mode for s, defaulting to test for anything
// unrecognized so a bad value can never touch live credentials.
func ParseMode(s string) Mode {
	if s == string(ModeLive) {
		return ModeLive
	}
	return ModeTest
}

// CredentialSet holds the per-mode processor credentials. Either a static
// key pair (basic-auth mode) or an OAuth-style token set (connected mode)
// is authoritative; a non-empty AccessToken signals connected mode.
type CredentialSet struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Mode Mode      `gorm:"type:varchar(8);not null;uniqueIndex:idx_credentials_mode" json:"mode"`

	KeyID     string `gorm:"type:text" json:"keyId,omitempty"`
	KeySecret string `gorm:"type:text" json:"-"`

	PublicToken  string `gorm:"type:text" json:"-"`
	AccessToken  string `gorm:"type:text" json:"-"`
	RefreshToken string `gorm:"type:text" json:"-"`
	ExpiresAt    int64  `gorm:"default:0" json:"expiresAt,omitempty"`
	MerchantID   string `gorm:"type:varchar(64)" json:"merchantId,omitempty"`

	// Consecutive refresh failures; reset on success, the set is cleared
	// once the ceiling is exceeded.
	ConnectionFailCount int `gorm:"default:0" json:"connectionFailCount"`

	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
	CreatedAt   time.Time  `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

func (CredentialSet) TableName() string {
	return "credential_sets"
}

// Connected reports whether this set represents an OAuth-style connection.
func (c *CredentialSet) Connected() bool {
	return c.AccessToken != ""
}

// StaticOnly reports whether this is a plain key/secret configuration.
// Static credentials never refresh.
func (c *CredentialSet) StaticOnly() bool {
	return c.KeySecret != "" && c.RefreshToken == ""
}

// ExpiredAt reports whether the access token has expired as of now.
func (c *CredentialSet) ExpiredAt(now time.Time) bool {
	return c.ExpiresAt > 0 && now.Unix() >= c.ExpiresAt
}
