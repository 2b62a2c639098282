package domain

import "time"

type ProviderKind string

const (
	ProviderGmail ProviderKind = "gmail"
	ProviderIMAP  ProviderKind = "imap"
)

// MailboxConnection links a tenant to one external mailbox.
// LastHistoryID is the provider's incremental sync cursor. It only moves forward.
type MailboxConnection struct {
	ID            string       `json:"id" gorm:"primaryKey"`
	TenantID      string       `json:"tenant_id" gorm:"index;not null"`
	Provider      ProviderKind `json:"provider" gorm:"not null"`
	EmailAddress  string       `json:"email_address" gorm:"index;not null"`
	CompanyDomain string       `json:"company_domain"`

	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenExpiry  *time.Time `json:"token_expiry,omitempty"`

	IMAPHost     string `json:"imap_host,omitempty"`
	IMAPPort     int    `json:"imap_port,omitempty"`
	IMAPUsername string `json:"imap_username,omitempty"`
	IMAPPassword string `json:"-"`

	LastHistoryID *uint64    `json:"last_history_id,omitempty"`
	IsActive      bool       `json:"is_active"`
	AutoImport    bool       `json:"auto_import"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	LastSyncError string     `json:"last_sync_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cursor returns the stored cursor and whether one exists.
func (c *MailboxConnection) Cursor() (uint64, bool) {
	if c.LastHistoryID == nil {
		return 0, false
	}
	return *c.LastHistoryID, true
}

// TokenExpiresWithin reports whether the OAuth access token expires before now+window.
func (c *MailboxConnection) TokenExpiresWithin(now time.Time, window time.Duration) bool {
	if c.TokenExpiry == nil || c.RefreshToken == "" {
		return false
	}
	return c.TokenExpiry.Before(now.Add(window))
}

// MaxCursor keeps cursors monotonic: a nil or smaller candidate never rewinds current.
func MaxCursor(current *uint64, candidate uint64) *uint64 {
	if candidate == 0 {
		return current
	}
	if current != nil && *current >= candidate {
		return current
	}
	return &candidate
}
