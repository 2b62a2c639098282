package usecase

import (
	"context"
	"errors"
	"time"

	"talent-inbox/internal/ingestion/domain"
	"talent-inbox/internal/ingestion/repository"

	"go.uber.org/zap"
)

const defaultRefreshWindow = time.Hour

type tokenUsecase struct {
	connections repository.ConnectionRepository
	providers   Providers
	window      time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewTokenUsecase refreshes OAuth tokens that expire within window.
func NewTokenUsecase(connections repository.ConnectionRepository, providers Providers, window time.Duration, log *zap.Logger) TokenUsecase {
	if window <= 0 {
		window = defaultRefreshWindow
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &tokenUsecase{
		connections: connections,
		providers:   providers,
		window:      window,
		logger:      log.Named("token_refresh"),
		now:         time.Now,
	}
}

func (u *tokenUsecase) RefreshExpiring(ctx context.Context) (int, int, error) {
	conns, err := u.connections.ListExpiringTokens(u.now().Add(u.window))
	if err != nil {
		return 0, 0, err
	}

	refreshed, failed := 0, 0
	for _, conn := range conns {
		if ctx.Err() != nil {
			return refreshed, failed, ctx.Err()
		}
		if err := u.refresh(ctx, conn); err != nil {
			failed++
			continue
		}
		refreshed++
	}

	if len(conns) > 0 {
		u.logger.Info("token refresh finished", zap.Int("refreshed", refreshed), zap.Int("failed", failed))
	}
	return refreshed, failed, nil
}

func (u *tokenUsecase) refresh(ctx context.Context, conn *domain.MailboxConnection) error {
	log := u.logger.With(zap.String("connection_id", conn.ID), zap.String("email", conn.EmailAddress))

	provider, err := u.providers.Get(conn.Provider)
	if err != nil {
		log.Warn("no provider for connection", zap.Error(err))
		return err
	}

	token, err := provider.RefreshToken(ctx, conn)
	if err != nil {
		if errors.Is(err, domain.ErrReauthRequired) {
			log.Warn("refresh token revoked, deactivating connection", zap.Error(err))
			if derr := u.connections.Deactivate(conn.ID, err.Error()); derr != nil {
				log.Error("failed to deactivate connection", zap.Error(derr))
			}
			return err
		}
		log.Warn("token refresh failed", zap.Error(err))
		return err
	}

	if err := u.connections.UpdateTokens(conn.ID, token); err != nil {
		log.Error("failed to store refreshed token", zap.Error(err))
		return err
	}
	log.Debug("token refreshed", zap.Time("expiry", token.Expiry))
	return nil
}
