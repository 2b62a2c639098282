package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var (
	// ErrInvalidCursor means the provider no longer accepts the stored cursor
	// (expired Gmail history, changed IMAP UIDVALIDITY). Callers fall back to a bounded scan.
	ErrInvalidCursor       = errors.New("sync cursor is no longer valid")
	ErrUnsupportedProvider = errors.New("unsupported mailbox provider")
	ErrConnectionInactive  = errors.New("mailbox connection is inactive")
	// ErrReauthRequired means the stored refresh token was revoked.
	ErrReauthRequired = errors.New("mailbox requires re-authorization")
)

// TokenUpdateFunc is called when the provider refreshed the OAuth token during a call.
type TokenUpdateFunc func(token *oauth2.Token) error

// ChangeSet is a batch of message ids in provider order plus the cursor reached by listing them.
type ChangeSet struct {
	MessageIDs []string
	Cursor     uint64
}

type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// InboundEmail is a provider message normalized for triage and ingestion.
type InboundEmail struct {
	ID          string
	ThreadID    string
	Subject     string
	FromAddress string
	FromName    string
	To          []string
	ReceivedAt  time.Time
	TextBody    string
	HTMLBody    string
	Headers     map[string]string
	Attachments []Attachment
}

// Header returns a header value by case-insensitive name.
func (e *InboundEmail) Header(name string) string {
	for k, v := range e.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// MailProvider opens authenticated sessions against one kind of mailbox backend.
type MailProvider interface {
	Kind() ProviderKind
	Open(ctx context.Context, conn *MailboxConnection, onTokenRefresh TokenUpdateFunc) (MailSession, error)
	// RefreshToken exchanges the stored refresh token for a new access token.
	RefreshToken(ctx context.Context, conn *MailboxConnection) (*oauth2.Token, error)
}

type MailSession interface {
	// ListChanges lists messages added since cursor. Returns ErrInvalidCursor when the cursor expired.
	ListChanges(ctx context.Context, cursor uint64) (*ChangeSet, error)
	// ListUnread lists at most limit unread inbox messages along with the current mailbox cursor.
	ListUnread(ctx context.Context, limit int) (*ChangeSet, error)
	GetMessage(ctx context.Context, id string) (*InboundEmail, error)
	GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
	Close() error
}
