package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"talent-inbox/internal/ingestion/domain"
	"talent-inbox/internal/ingestion/repository"
	"talent-inbox/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const (
	defaultFullScanLimit         = 50
	defaultConnectionConcurrency = 4
	defaultMessageTimeout        = 5 * time.Minute
)

type SyncOptions struct {
	// FullScanLimit bounds the unread scan used on first sync and after an expired cursor.
	FullScanLimit         int
	ConnectionConcurrency int
	// MessageTimeout bounds one message. A cancelled sync still lets the in-flight message finish
	// within this budget and stops before the next one.
	MessageTimeout time.Duration
}

type syncUsecase struct {
	connections repository.ConnectionRepository
	providers   Providers
	ingest      IngestUsecase
	opts        SyncOptions
	logger      *zap.Logger
	now         func() time.Time
}

func NewSyncUsecase(connections repository.ConnectionRepository, providers Providers, ingest IngestUsecase, opts SyncOptions, log *zap.Logger) SyncUsecase {
	if opts.FullScanLimit <= 0 {
		opts.FullScanLimit = defaultFullScanLimit
	}
	if opts.ConnectionConcurrency <= 0 {
		opts.ConnectionConcurrency = defaultConnectionConcurrency
	}
	if opts.MessageTimeout <= 0 {
		opts.MessageTimeout = defaultMessageTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &syncUsecase{
		connections: connections,
		providers:   providers,
		ingest:      ingest,
		opts:        opts,
		logger:      log.Named("sync"),
		now:         time.Now,
	}
}

func (u *syncUsecase) Sync(ctx context.Context, connectionID string) (*SyncResult, error) {
	conn, err := u.connections.FindByID(connectionID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("connection %s: %w", connectionID, domain.ErrNotFound)
	}
	if !conn.IsActive {
		return nil, fmt.Errorf("%w: %s", domain.ErrConnectionInactive, conn.ID)
	}
	return u.syncConnection(ctx, conn)
}

func (u *syncUsecase) SyncTenant(ctx context.Context, tenantID string) ([]*SyncResult, error) {
	conns, err := u.connections.ListActiveByTenant(tenantID)
	if err != nil {
		return nil, err
	}
	return u.syncMany(ctx, conns), nil
}

func (u *syncUsecase) SyncAllActive(ctx context.Context) ([]*SyncResult, error) {
	conns, err := u.connections.ListActive()
	if err != nil {
		return nil, err
	}
	return u.syncMany(ctx, conns), nil
}

func (u *syncUsecase) SyncByEmail(ctx context.Context, email string, historyID uint64) (*SyncResult, error) {
	conn, err := u.connections.FindByEmail(email)
	if err != nil {
		return nil, err
	}
	if conn == nil || !conn.IsActive {
		return nil, fmt.Errorf("active connection for %s: %w", email, domain.ErrNotFound)
	}
	if cursor, ok := conn.Cursor(); ok && historyID != 0 && historyID <= cursor {
		u.logger.Debug("stale push notification ignored",
			zap.String("connection_id", conn.ID),
			zap.Uint64("history_id", historyID),
			zap.Uint64("cursor", cursor),
		)
		return &SyncResult{ConnectionID: conn.ID, Cursor: conn.LastHistoryID, Errors: []string{}}, nil
	}
	return u.syncConnection(ctx, conn)
}

// syncMany syncs connections with bounded parallelism. A failing connection never aborts the others.
func (u *syncUsecase) syncMany(ctx context.Context, conns []*domain.MailboxConnection) []*SyncResult {
	results := make([]*SyncResult, len(conns))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.opts.ConnectionConcurrency)
	for i, conn := range conns {
		g.Go(func() error {
			res, err := u.syncConnection(gctx, conn)
			if err != nil && res == nil {
				res = &SyncResult{ConnectionID: conn.ID, Errors: []string{}, Error: err.Error()}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (u *syncUsecase) syncConnection(ctx context.Context, conn *domain.MailboxConnection) (*SyncResult, error) {
	started := u.now()
	log := u.logger.With(zap.String("connection_id", conn.ID), zap.String("provider", string(conn.Provider)))
	result := &SyncResult{ConnectionID: conn.ID, Errors: []string{}, Cursor: conn.LastHistoryID}

	sess, err := u.providers.Open(ctx, conn, u.tokenSaver(conn.ID))
	if err != nil {
		return u.connectionFailed(conn, result, fmt.Errorf("open mailbox: %w", err))
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Debug("close mailbox session", zap.Error(err))
		}
	}()

	changes, mode, err := u.listChanges(ctx, conn, sess)
	if err != nil {
		return u.connectionFailed(conn, result, err)
	}
	result.UsedFallback = mode == "fallback"

	var interrupted error
	for _, id := range changes.MessageIDs {
		if interrupted = ctx.Err(); interrupted != nil {
			break
		}
		result.Processed++

		res, err := u.ingestOne(ctx, conn, sess, id)
		if res == nil && errors.Is(err, context.Canceled) {
			// Nothing was stored; the message is listed again by the next sync.
			result.Processed--
			interrupted = err
			break
		}
		if res != nil {
			tally(result, res.Outcome)
		}
		if err != nil {
			if res == nil {
				result.Failed++
			}
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
		}
	}

	if interrupted == nil {
		interrupted = ctx.Err()
	}
	// An interrupted sync keeps the old cursor so the remaining messages are listed again.
	if interrupted != nil {
		result.Error = "sync interrupted: " + interrupted.Error()
		if err := u.connections.UpdateSyncState(conn.ID, nil, u.now(), result.Error); err != nil {
			log.Error("failed to record sync state", zap.Error(err))
		}
		log.Warn("sync interrupted", zap.Int("processed", result.Processed), zap.Error(interrupted))
		return result, interrupted
	}

	result.Cursor = domain.MaxCursor(conn.LastHistoryID, changes.Cursor)
	if mode == "fallback" && changes.Cursor != 0 {
		// The rejected cursor is void and its replacement may sort below it.
		next := changes.Cursor
		result.Cursor = &next
		if err := u.connections.ResetCursor(conn.ID, next); err != nil {
			return result, fmt.Errorf("reset cursor: %w", err)
		}
	}
	if err := u.connections.UpdateSyncState(conn.ID, result.Cursor, u.now(), ""); err != nil {
		return result, fmt.Errorf("save sync state: %w", err)
	}
	conn.LastHistoryID = result.Cursor

	metrics.RecordSync(string(conn.Provider), mode, time.Since(started))
	log.Info("mailbox synced",
		zap.String("mode", mode),
		zap.Int("processed", result.Processed),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Duration("took", time.Since(started)),
	)
	return result, nil
}

// ingestOne detaches the message from sync cancellation so a shutdown never leaves it half-imported.
func (u *syncUsecase) ingestOne(ctx context.Context, conn *domain.MailboxConnection, sess domain.MailSession, id string) (*IngestResult, error) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.opts.MessageTimeout)
	defer cancel()
	return u.ingest.Ingest(mctx, conn, sess, id)
}

// listChanges uses the stored cursor when possible and falls back to a bounded unread scan.
func (u *syncUsecase) listChanges(ctx context.Context, conn *domain.MailboxConnection, sess domain.MailSession) (*domain.ChangeSet, string, error) {
	cursor, ok := conn.Cursor()
	if !ok {
		changes, err := sess.ListUnread(ctx, u.opts.FullScanLimit)
		if err != nil {
			return nil, "", fmt.Errorf("list unread: %w", err)
		}
		return changes, "initial", nil
	}

	changes, err := sess.ListChanges(ctx, cursor)
	if err == nil {
		return changes, "incremental", nil
	}
	if !errors.Is(err, domain.ErrInvalidCursor) {
		return nil, "", fmt.Errorf("list changes: %w", err)
	}

	u.logger.Warn("sync cursor expired, scanning unread messages",
		zap.String("connection_id", conn.ID),
		zap.Uint64("cursor", cursor),
		zap.Int("limit", u.opts.FullScanLimit),
	)
	changes, err = sess.ListUnread(ctx, u.opts.FullScanLimit)
	if err != nil {
		return nil, "", fmt.Errorf("list unread: %w", err)
	}
	return changes, "fallback", nil
}

func (u *syncUsecase) connectionFailed(conn *domain.MailboxConnection, result *SyncResult, cause error) (*SyncResult, error) {
	result.Error = cause.Error()
	if err := u.connections.UpdateSyncState(conn.ID, nil, u.now(), cause.Error()); err != nil {
		u.logger.Error("failed to record sync error", zap.String("connection_id", conn.ID), zap.Error(err))
	}
	if errors.Is(cause, domain.ErrReauthRequired) {
		if err := u.connections.Deactivate(conn.ID, cause.Error()); err != nil {
			u.logger.Error("failed to deactivate connection", zap.String("connection_id", conn.ID), zap.Error(err))
		}
	}
	u.logger.Error("mailbox sync failed", zap.String("connection_id", conn.ID), zap.Error(cause))
	return result, cause
}

func (u *syncUsecase) tokenSaver(connectionID string) domain.TokenUpdateFunc {
	var mu sync.Mutex
	return func(token *oauth2.Token) error {
		mu.Lock()
		defer mu.Unlock()
		return u.connections.UpdateTokens(connectionID, token)
	}
}

func tally(result *SyncResult, outcome Outcome) {
	switch outcome {
	case OutcomeImported:
		result.Imported++
	case OutcomeSkipped:
		result.Skipped++
	case OutcomeDuplicate:
		result.Duplicates++
	case OutcomeFailed:
		result.Failed++
	case OutcomeDeferred:
		result.Deferred++
	}
}
