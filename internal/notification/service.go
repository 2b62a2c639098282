// Package notification receives Gmail push notifications from Pub/Sub and turns them into
// incremental mailbox syncs.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"talent-inbox/internal/ingestion/domain"
	"talent-inbox/internal/ingestion/repository"
	"talent-inbox/internal/ingestion/usecase"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// Gmail watches expire after seven days.
const watchRenewInterval = 24 * time.Hour

type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

type Syncer interface {
	SyncByEmail(ctx context.Context, email string, historyID uint64) (*usecase.SyncResult, error)
}

type Watcher interface {
	Watch(ctx context.Context, conn *domain.MailboxConnection, topicName string, onTokenRefresh domain.TokenUpdateFunc) (uint64, error)
}

type Service struct {
	pubsubClient *pubsub.Client
	syncer       Syncer
	watcher      Watcher
	connections  repository.ConnectionRepository
	topicName    string
	subName      string
	logger       *zap.Logger

	mu sync.Mutex
	// lastHistoryID drops redelivered or out-of-order notifications per mailbox.
	lastHistoryID map[string]uint64
}

// NewService connects to Pub/Sub. topicName is the short topic name; subName defaults to "<topic>-sub".
func NewService(ctx context.Context, projectID, topicName, subName, credentialsFile string, syncer Syncer, watcher Watcher, connections repository.ConnectionRepository, log *zap.Logger) (*Service, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	s := newService(syncer, watcher, connections, topicName, subName, log)
	s.pubsubClient = client
	return s, nil
}

func newService(syncer Syncer, watcher Watcher, connections repository.ConnectionRepository, topicName, subName string, log *zap.Logger) *Service {
	if subName == "" {
		subName = topicName + "-sub"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		syncer:        syncer,
		watcher:       watcher,
		connections:   connections,
		topicName:     topicName,
		subName:       subName,
		logger:        log.Named("gmail_push"),
		lastHistoryID: make(map[string]uint64),
	}
}

// Start renews mailbox watches and blocks receiving notifications until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting push listener", zap.String("topic", s.topicName), zap.String("subscription", s.subName))

	sub, err := s.ensureSubscription(ctx)
	if err != nil {
		return err
	}

	go s.renewLoop(ctx)

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := s.handleMessage(ctx, msg.Data); err != nil {
			s.logger.Warn("push notification not processed", zap.String("pubsub_id", msg.ID), zap.Error(err))
		}
		// Failed syncs are picked up by the next scheduled poll.
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive push notifications: %w", err)
	}
	return nil
}

func (s *Service) Close() error {
	if s.pubsubClient == nil {
		return nil
	}
	return s.pubsubClient.Close()
}

func (s *Service) ensureSubscription(ctx context.Context) (*pubsub.Subscription, error) {
	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check subscription %s: %w", s.subName, err)
	}
	if exists {
		return sub, nil
	}

	topic := s.pubsubClient.Topic(s.topicName)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", s.topicName, err)
	}
	if !topicExists {
		return nil, fmt.Errorf("topic %s does not exist", s.topicName)
	}

	sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 60 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription %s: %w", s.subName, err)
	}
	s.logger.Info("created subscription", zap.String("subscription", s.subName))
	return sub, nil
}

func (s *Service) renewLoop(ctx context.Context) {
	s.RenewWatches(ctx)
	ticker := time.NewTicker(watchRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.RenewWatches(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RenewWatches (re)registers a Gmail watch for every active Gmail connection.
func (s *Service) RenewWatches(ctx context.Context) int {
	if s.watcher == nil {
		return 0
	}
	conns, err := s.connections.ListActive()
	if err != nil {
		s.logger.Error("list connections for watch renewal", zap.Error(err))
		return 0
	}

	topic := s.fullTopicName()
	watched := 0
	for _, conn := range conns {
		if conn.Provider != domain.ProviderGmail {
			continue
		}
		connID := conn.ID
		_, err := s.watcher.Watch(ctx, conn, topic, func(token *oauth2.Token) error {
			return s.connections.UpdateTokens(connID, token)
		})
		if err != nil {
			s.logger.Warn("failed to watch mailbox", zap.String("connection_id", conn.ID), zap.Error(err))
			continue
		}
		watched++
	}
	s.logger.Info("mailbox watches renewed", zap.Int("watched", watched), zap.Int("connections", len(conns)))
	return watched
}

func (s *Service) fullTopicName() string {
	if s.pubsubClient == nil {
		return s.topicName
	}
	return fmt.Sprintf("projects/%s/topics/%s", s.pubsubClient.Project(), s.topicName)
}

func (s *Service) handleMessage(ctx context.Context, data []byte) error {
	var n GmailNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	if n.EmailAddress == "" {
		return errors.New("notification without email address")
	}
	email := domain.NormalizeEmail(n.EmailAddress)

	s.mu.Lock()
	last, seen := s.lastHistoryID[email]
	if seen && n.HistoryID <= last {
		s.mu.Unlock()
		s.logger.Debug("duplicate notification skipped",
			zap.String("email", email),
			zap.Uint64("history_id", n.HistoryID),
			zap.Uint64("last_history_id", last),
		)
		return nil
	}
	s.lastHistoryID[email] = n.HistoryID
	s.mu.Unlock()

	res, err := s.syncer.SyncByEmail(ctx, email, n.HistoryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Debug("notification for unknown mailbox", zap.String("email", email))
			return nil
		}
		return fmt.Errorf("sync %s: %w", email, err)
	}

	s.logger.Info("push sync finished",
		zap.String("email", email),
		zap.Uint64("history_id", n.HistoryID),
		zap.Int("processed", res.Processed),
		zap.Int("imported", res.Imported),
	)
	return nil
}
