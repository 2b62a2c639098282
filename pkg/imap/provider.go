// Package imap implements the mailbox provider for plain IMAP accounts. The sync cursor packs the
// mailbox UIDVALIDITY with the highest UID seen, so a mailbox rebuild invalidates it.
package imap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"talent-inbox/internal/ingestion/domain"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	mailbox     = "INBOX"
	dialTimeout = 30 * time.Second
)

// PackCursor combines UIDVALIDITY and a UID into one cursor that is monotonic within one
// UIDVALIDITY. UIDVALIDITY is masked to 31 bits so the cursor fits a signed 64-bit column; two
// values that differ only in the top bit are indistinguishable. A changed UIDVALIDITY may pack
// lower than the stored cursor, which sync replaces after the unread fallback scan.
func PackCursor(uidValidity, uid uint32) uint64 {
	return uint64(maskValidity(uidValidity))<<32 | uint64(uid)
}

func maskValidity(v uint32) uint32 {
	return v & 0x7fffffff
}

func UnpackCursor(cursor uint64) (uidValidity, uid uint32) {
	return uint32(cursor >> 32), uint32(cursor)
}

type Provider struct {
	logger *zap.Logger
	// Dial is replaceable for tests.
	Dial func(ctx context.Context, conn *domain.MailboxConnection) (*client.Client, error)
}

func NewProvider(log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{logger: log.Named("imap"), Dial: dialTLS}
}

func dialTLS(ctx context.Context, conn *domain.MailboxConnection) (*client.Client, error) {
	port := conn.IMAPPort
	if port == 0 {
		port = 993
	}
	addr := net.JoinHostPort(conn.IMAPHost, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: dialTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	return client.DialWithDialerTLS(dialer, addr, nil)
}

func (p *Provider) Kind() domain.ProviderKind {
	return domain.ProviderIMAP
}

func (p *Provider) Open(ctx context.Context, conn *domain.MailboxConnection, _ domain.TokenUpdateFunc) (domain.MailSession, error) {
	if conn.IMAPHost == "" {
		return nil, fmt.Errorf("connection %s has no IMAP host", conn.ID)
	}

	c, err := p.Dial(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", conn.IMAPHost, err)
	}

	username := conn.IMAPUsername
	if username == "" {
		username = conn.EmailAddress
	}
	if err := c.Login(username, conn.IMAPPassword); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: imap login: %v", domain.ErrReauthRequired, err)
	}

	status, err := c.Select(mailbox, true)
	if err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("select %s: %w", mailbox, err)
	}

	return &session{
		client: c,
		status: status,
		cache:  map[string]*ParsedMessage{},
		logger: p.logger.With(zap.String("connection_id", conn.ID)),
	}, nil
}

// RefreshToken is not applicable to password-based IMAP accounts.
func (p *Provider) RefreshToken(context.Context, *domain.MailboxConnection) (*oauth2.Token, error) {
	return nil, errors.New("imap connections do not use OAuth tokens")
}

type session struct {
	mu     sync.Mutex
	client *client.Client
	status *goimap.MailboxStatus
	cache  map[string]*ParsedMessage
	logger *zap.Logger
}

func (s *session) ListChanges(ctx context.Context, cursor uint64) (*domain.ChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	validity, lastUID := UnpackCursor(cursor)
	if validity != maskValidity(s.status.UidValidity) {
		return nil, fmt.Errorf("%w: uidvalidity changed from %d to %d", domain.ErrInvalidCursor, validity, s.status.UidValidity)
	}

	seq := new(goimap.SeqSet)
	seq.AddRange(lastUID+1, 0)
	criteria := goimap.NewSearchCriteria()
	criteria.Uid = seq

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("uid search: %w", err)
	}

	// "n:*" always matches the last message, even when its UID is below n.
	var fresh []uint32
	for _, uid := range uids {
		if uid > lastUID {
			fresh = append(fresh, uid)
		}
	}
	return s.changeSet(fresh, lastUID), nil
}

func (s *session) ListUnread(ctx context.Context, limit int) (*domain.ChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	criteria := goimap.NewSearchCriteria()
	criteria.WithoutFlags = []string{goimap.SeenFlag}

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("uid search unseen: %w", err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	var floor uint32
	if s.status.UidNext > 0 {
		floor = s.status.UidNext - 1
	}
	return s.changeSet(uids, floor), nil
}

func (s *session) changeSet(uids []uint32, floor uint32) *domain.ChangeSet {
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	highest := floor
	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
		if uid > highest {
			highest = uid
		}
	}
	return &domain.ChangeSet{MessageIDs: ids, Cursor: PackCursor(s.status.UidValidity, highest)}
}

func (s *session) GetMessage(ctx context.Context, id string) (*domain.InboundEmail, error) {
	parsed, err := s.fetch(id)
	if err != nil {
		return nil, err
	}
	return parsed.Email, nil
}

func (s *session) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	parsed, err := s.fetch(messageID)
	if err != nil {
		return nil, err
	}
	data, ok := parsed.Attachments[attachmentID]
	if !ok {
		return nil, fmt.Errorf("%w: attachment %s of message %s", domain.ErrNotFound, attachmentID, messageID)
	}
	return data, nil
}

func (s *session) fetch(id string) (*ParsedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if parsed, ok := s.cache[id]; ok {
		return parsed, nil
	}

	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid imap uid %q: %w", id, err)
	}

	seq := new(goimap.SeqSet)
	seq.AddNum(uint32(uid))
	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{section.FetchItem(), goimap.FetchUid, goimap.FetchInternalDate}

	messages := make(chan *goimap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seq, items, messages)
	}()

	var msg *goimap.Message
	for m := range messages {
		msg = m
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("uid fetch %s: %w", id, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: imap message %s", domain.ErrNotFound, id)
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("imap message %s has no body", id)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read imap message %s: %w", id, err)
	}

	parsed, err := ParseMessage(id, raw)
	if err != nil {
		return nil, err
	}
	if !msg.InternalDate.IsZero() {
		parsed.Email.ReceivedAt = msg.InternalDate.UTC()
	}

	// Sync reads a message and then its attachments; keep only the latest.
	s.cache = map[string]*ParsedMessage{id: parsed}
	return parsed, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.client.Logout(); err != nil {
		s.logger.Debug("imap logout failed", zap.Error(err))
		return err
	}
	return nil
}
