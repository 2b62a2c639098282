package repository

import (
	"errors"
	"fmt"
	"time"

	"talent-inbox/internal/ingestion/domain"
	"talent-inbox/pkg/crypto"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

type connectionRepository struct {
	db     *gorm.DB
	sealer *crypto.Sealer
}

func NewConnectionRepository(db *gorm.DB, sealer *crypto.Sealer) ConnectionRepository {
	if sealer == nil {
		sealer = crypto.NewSealer("")
	}
	return &connectionRepository{db: db, sealer: sealer}
}

func (r *connectionRepository) Create(conn *domain.MailboxConnection) error {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	now := time.Now()
	conn.CreatedAt = now
	conn.UpdatedAt = now

	if conn.TokenExpiry != nil {
		expiry := conn.TokenExpiry.UTC()
		conn.TokenExpiry = &expiry
	}

	sealed := *conn
	if err := r.seal(&sealed); err != nil {
		return err
	}
	return r.db.Create(&sealed).Error
}

func (r *connectionRepository) FindByID(id string) (*domain.MailboxConnection, error) {
	return r.first("id = ?", id)
}

func (r *connectionRepository) FindByEmail(email string) (*domain.MailboxConnection, error) {
	return r.first("LOWER(email_address) = ? AND is_active = ?", domain.NormalizeEmail(email), true)
}

func (r *connectionRepository) ListActive() ([]*domain.MailboxConnection, error) {
	return r.list(r.db.Where("is_active = ?", true))
}

func (r *connectionRepository) ListActiveByTenant(tenantID string) ([]*domain.MailboxConnection, error) {
	return r.list(r.db.Where("tenant_id = ? AND is_active = ?", tenantID, true))
}

func (r *connectionRepository) ListExpiringTokens(before time.Time) ([]*domain.MailboxConnection, error) {
	return r.list(r.db.Where(
		"is_active = ? AND provider = ? AND token_expiry IS NOT NULL AND token_expiry < ? AND refresh_token <> ''",
		true, domain.ProviderGmail, before.UTC(),
	))
}

func (r *connectionRepository) UpdateSyncState(id string, cursor *uint64, syncedAt time.Time, syncErr string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&domain.MailboxConnection{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"last_sync_at":    syncedAt.UTC(),
				"last_sync_error": syncErr,
				"updated_at":      time.Now(),
			}).Error
		if err != nil {
			return err
		}
		if cursor == nil || *cursor == 0 {
			return nil
		}
		// Concurrent syncs may finish out of order; never rewind.
		return tx.Model(&domain.MailboxConnection{}).
			Where("id = ? AND (last_history_id IS NULL OR last_history_id < ?)", id, *cursor).
			Update("last_history_id", *cursor).Error
	})
}

func (r *connectionRepository) ResetCursor(id string, cursor uint64) error {
	return r.db.Model(&domain.MailboxConnection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_history_id": cursor,
			"updated_at":      time.Now(),
		}).Error
}

func (r *connectionRepository) UpdateTokens(id string, token *oauth2.Token) error {
	if token == nil {
		return errors.New("token is nil")
	}

	access, err := r.sealer.Seal(token.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	updates := map[string]interface{}{
		"access_token": access,
		"updated_at":   time.Now(),
	}
	if token.RefreshToken != "" {
		refresh, err := r.sealer.Seal(token.RefreshToken)
		if err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
		updates["refresh_token"] = refresh
	}
	if !token.Expiry.IsZero() {
		updates["token_expiry"] = token.Expiry.UTC()
	}

	return r.db.Model(&domain.MailboxConnection{}).Where("id = ?", id).Updates(updates).Error
}

func (r *connectionRepository) Deactivate(id, reason string) error {
	return r.db.Model(&domain.MailboxConnection{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":       false,
			"last_sync_error": reason,
			"updated_at":      time.Now(),
		}).Error
}

func (r *connectionRepository) first(query string, args ...interface{}) (*domain.MailboxConnection, error) {
	var conn domain.MailboxConnection
	err := r.db.Where(query, args...).First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.open(&conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepository) list(q *gorm.DB) ([]*domain.MailboxConnection, error) {
	var conns []*domain.MailboxConnection
	if err := q.Order("created_at ASC").Find(&conns).Error; err != nil {
		return nil, err
	}
	for _, c := range conns {
		if err := r.open(c); err != nil {
			return nil, err
		}
	}
	return conns, nil
}

func (r *connectionRepository) seal(c *domain.MailboxConnection) error {
	var err error
	if c.AccessToken, err = r.sealer.Seal(c.AccessToken); err != nil {
		return err
	}
	if c.RefreshToken, err = r.sealer.Seal(c.RefreshToken); err != nil {
		return err
	}
	if c.IMAPPassword, err = r.sealer.Seal(c.IMAPPassword); err != nil {
		return err
	}
	return nil
}

func (r *connectionRepository) open(c *domain.MailboxConnection) error {
	var err error
	if c.AccessToken, err = r.sealer.Open(c.AccessToken); err != nil {
		return fmt.Errorf("open access token for %s: %w", c.ID, err)
	}
	if c.RefreshToken, err = r.sealer.Open(c.RefreshToken); err != nil {
		return fmt.Errorf("open refresh token for %s: %w", c.ID, err)
	}
	if c.IMAPPassword, err = r.sealer.Open(c.IMAPPassword); err != nil {
		return fmt.Errorf("open imap password for %s: %w", c.ID, err)
	}
	return nil
}
