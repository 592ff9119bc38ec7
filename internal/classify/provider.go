package classify

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Prompt is one text-completion request.
type Prompt struct {
	System string
	User   string
	// JSON asks the backend for a JSON response when it supports it.
	JSON bool
}

// Provider is a text-completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, p Prompt) (string, error)
	Close() error
}

// Chain tries providers in order and returns the first non-empty completion.
// A positive Timeout bounds each provider separately, so a hung primary
// still leaves the fallbacks their own deadline.
type Chain struct {
	Providers []Provider
	Timeout   time.Duration
	Logger    *zap.Logger
}

func (c Chain) Name() string {
	names := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		names = append(names, p.Name())
	}
	return strings.Join(names, ">")
}

func (c Chain) Complete(ctx context.Context, p Prompt) (string, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(c.Providers) == 0 {
		return "", &Error{Kind: KindUnavailable, Err: errors.New("no providers configured")}
	}
	var lastErr *Error
	for i, provider := range c.Providers {
		if err := ctx.Err(); err != nil {
			return "", asError(provider.Name(), err)
		}
		out, err := c.completeOne(ctx, provider, p)
		if err == nil {
			if i > 0 {
				logger.Info("classifier fallback provider answered", zap.String("provider", provider.Name()), zap.Int("position", i))
			}
			return out, nil
		}
		lastErr = asError(provider.Name(), err)
		logger.Warn("classifier provider failed",
			zap.String("provider", provider.Name()),
			zap.String("kind", string(lastErr.Kind)),
			zap.Error(err))
	}
	return "", lastErr
}

func (c Chain) completeOne(ctx context.Context, provider Provider, p Prompt) (string, error) {
	callCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	out, err := provider.Complete(callCtx, p)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", &Error{Kind: KindTimeout, Provider: provider.Name(), Err: err}
		}
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", &Error{Kind: KindMalformed, Provider: provider.Name(), Err: errors.New("empty completion")}
	}
	return out, nil
}

func (c Chain) Close() error {
	var errs []error
	for _, p := range c.Providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
