// Package gmail implements the mailbox provider for Gmail accounts connected over OAuth.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"talent-inbox/internal/ingestion/domain"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	user               = "me"
	defaultUnreadQuery = "is:unread in:inbox"
	pageSize           = 100
)

type Options struct {
	ClientID     string
	ClientSecret string
	// Endpoint overrides the Gmail API base URL.
	Endpoint string
	// AuthEndpoint overrides Google's OAuth endpoint.
	AuthEndpoint      *oauth2.Endpoint
	UnreadQuery       string
	HistoryTypes      []string
	RequestsPerSecond float64
	// HTTPClient is the base client used underneath the OAuth transport.
	HTTPClient *http.Client
}

type Provider struct {
	opts    Options
	oauth   *oauth2.Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewProvider(opts Options, log *zap.Logger) *Provider {
	if opts.UnreadQuery == "" {
		opts.UnreadQuery = defaultUnreadQuery
	}
	if len(opts.HistoryTypes) == 0 {
		opts.HistoryTypes = []string{"messageAdded"}
	}
	if log == nil {
		log = zap.NewNop()
	}

	endpoint := google.Endpoint
	if opts.AuthEndpoint != nil {
		endpoint = *opts.AuthEndpoint
	}

	p := &Provider{
		opts: opts,
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       []string{gmail.GmailReadonlyScope},
		},
		logger: log.Named("gmail"),
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return p
}

func (p *Provider) Kind() domain.ProviderKind {
	return domain.ProviderGmail
}

type notifyTokenSource struct {
	mu       sync.Mutex
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback domain.TokenUpdateFunc
	logger   *zap.Logger
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, mapError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			s.logger.Error("failed to persist refreshed token", zap.Error(err))
		}
	}
	return t, nil
}

func (p *Provider) baseContext(ctx context.Context) context.Context {
	if p.opts.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, p.opts.HTTPClient)
	}
	return ctx
}

// Open builds an authenticated Gmail client for the connection. Refreshed tokens are reported to onTokenRefresh.
func (p *Provider) Open(ctx context.Context, conn *domain.MailboxConnection, onTokenRefresh domain.TokenUpdateFunc) (domain.MailSession, error) {
	if conn.AccessToken == "" && conn.RefreshToken == "" {
		return nil, fmt.Errorf("%w: connection %s has no OAuth tokens", domain.ErrReauthRequired, conn.ID)
	}

	token := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    "Bearer",
	}
	if conn.TokenExpiry != nil {
		token.Expiry = *conn.TokenExpiry
	} else if conn.RefreshToken != "" {
		// Unknown expiry: refresh up front.
		token.Expiry = time.Now()
	}

	baseCtx := p.baseContext(context.WithoutCancel(ctx))
	wrapped := &notifyTokenSource{
		src:      p.oauth.TokenSource(baseCtx, token),
		current:  token,
		callback: onTokenRefresh,
		logger:   p.logger,
	}
	client := oauth2.NewClient(baseCtx, wrapped)

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.opts.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.opts.Endpoint))
	}
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}

	return &session{
		srv:          srv,
		limiter:      p.limiter,
		unreadQuery:  p.opts.UnreadQuery,
		historyTypes: p.opts.HistoryTypes,
		logger:       p.logger.With(zap.String("connection_id", conn.ID)),
	}, nil
}

// RefreshToken exchanges the stored refresh token for a fresh access token.
func (p *Provider) RefreshToken(ctx context.Context, conn *domain.MailboxConnection) (*oauth2.Token, error) {
	if conn.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token stored", domain.ErrReauthRequired)
	}
	src := p.oauth.TokenSource(p.baseContext(ctx), &oauth2.Token{
		RefreshToken: conn.RefreshToken,
		Expiry:       time.Now().Add(-time.Minute),
	})
	token, err := src.Token()
	if err != nil {
		return nil, mapError(err)
	}
	if token.RefreshToken == "" {
		token.RefreshToken = conn.RefreshToken
	}
	return token, nil
}

// Watch registers Gmail push notifications for the mailbox on a Pub/Sub topic and returns the
// history ID at which notifications start.
func (p *Provider) Watch(ctx context.Context, conn *domain.MailboxConnection, topicName string, onTokenRefresh domain.TokenUpdateFunc) (uint64, error) {
	sess, err := p.Open(ctx, conn, onTokenRefresh)
	if err != nil {
		return 0, err
	}
	defer sess.Close()
	s := sess.(*session)

	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	// Only one push client per user; clear any previous watch first.
	_ = s.srv.Users.Stop(user).Context(ctx).Do()

	resp, err := s.srv.Users.Watch(user, &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("unable to watch mailbox: %w", mapError(err))
	}

	s.logger.Info("gmail watch started",
		zap.Uint64("history_id", resp.HistoryId),
		zap.Time("expires", time.UnixMilli(resp.Expiration)),
	)
	return resp.HistoryId, nil
}

// mapError translates Gmail and OAuth failures into domain errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", domain.ErrReauthRequired, err)
		}
		return err
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" || strings.Contains(string(retrieveErr.Body), "invalid_grant") {
			return fmt.Errorf("%w: %v", domain.ErrReauthRequired, err)
		}
	}
	return err
}
