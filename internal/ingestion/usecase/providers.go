package usecase

import (
	"context"
	"fmt"

	"talent-inbox/internal/ingestion/domain"
)

// Providers resolves the mailbox provider for a connection.
type Providers map[domain.ProviderKind]domain.MailProvider

func NewProviders(providers ...domain.MailProvider) Providers {
	out := make(Providers, len(providers))
	for _, p := range providers {
		out[p.Kind()] = p
	}
	return out
}

func (p Providers) Get(kind domain.ProviderKind) (domain.MailProvider, error) {
	provider, ok := p[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, kind)
	}
	return provider, nil
}

func (p Providers) Open(ctx context.Context, conn *domain.MailboxConnection, onTokenRefresh domain.TokenUpdateFunc) (domain.MailSession, error) {
	if !conn.IsActive {
		return nil, fmt.Errorf("%w: %s", domain.ErrConnectionInactive, conn.ID)
	}
	provider, err := p.Get(conn.Provider)
	if err != nil {
		return nil, err
	}
	return provider.Open(ctx, conn, onTokenRefresh)
}
