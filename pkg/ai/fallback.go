package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"
)

// FallbackGenerator routes prompts to a primary backend and falls back to the
// secondary on connection or quota failures.
type FallbackGenerator struct {
	primary   Generator
	secondary Generator
	logger    *zap.Logger
}

func NewFallbackGenerator(primary, secondary Generator, log *zap.Logger) *FallbackGenerator {
	if log == nil {
		log = zap.NewNop()
	}
	return &FallbackGenerator{primary: primary, secondary: secondary, logger: log.Named("ai.fallback")}
}

func (f *FallbackGenerator) Name() string {
	switch {
	case f.primary != nil && f.secondary != nil:
		return f.primary.Name() + "+" + f.secondary.Name()
	case f.primary != nil:
		return f.primary.Name()
	case f.secondary != nil:
		return f.secondary.Name()
	}
	return "none"
}

func (f *FallbackGenerator) GenerateContent(ctx context.Context, prompt string) (string, error) {
	if f.primary == nil && f.secondary == nil {
		return "", errors.New("no AI provider available")
	}

	if f.primary != nil {
		out, err := f.primary.GenerateContent(ctx, prompt)
		if err == nil {
			return out, nil
		}
		if f.secondary == nil || !shouldFallback(err) {
			return "", err
		}
		f.logger.Warn("primary backend failed, falling back",
			zap.String("primary", f.primary.Name()),
			zap.String("secondary", f.secondary.Name()),
			zap.Error(err),
		)
	}

	out, err := f.secondary.GenerateContent(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", f.secondary.Name(), err)
	}
	return out, nil
}

func shouldFallback(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return isConnectionError(err) || isQuotaError(err) || isServerError(err)
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"eof",
	} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
		"resource_exhausted",
	} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

func isServerError(err error) bool {
	errStr := err.Error()
	for _, code := range []string{"(500)", "(502)", "(503)", "(504)", "Error 500", "Error 503"} {
		if strings.Contains(errStr, code) {
			return true
		}
	}
	return false
}
