// Package classify wraps text-completion providers behind the classification
// adapter contract: bounded attempts, retry with backoff for transient
// failures, and typed error kinds.
package classify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"idealine/internal/config"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

type Adapter struct {
	Provider       Provider
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *zap.Logger
}

func NewAdapter(p Provider, cfg config.ClassifierConfig, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		Provider:       p,
		Timeout:        time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: time.Duration(cfg.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.MaxBackoffMS) * time.Millisecond,
		Logger:         logger,
	}
}

func (a *Adapter) Classify(ctx context.Context, text string, snap Snapshot) (string, error) {
	return a.complete(ctx, "classify", classifyPrompt(text, snap))
}

func (a *Adapter) Distill(ctx context.Context, text string, snap Snapshot) (string, error) {
	return a.complete(ctx, "distill", distillPrompt(text, snap))
}

func (a *Adapter) Decompose(ctx context.Context, text string, snap Snapshot) (string, error) {
	return a.complete(ctx, "decompose", decomposePrompt(text, snap))
}

func (a *Adapter) Execute(ctx context.Context, req ExecuteRequest) (string, error) {
	return a.complete(ctx, "execute", executePrompt(req))
}

func (a *Adapter) Close() error {
	if a.Provider == nil {
		return nil
	}
	return a.Provider.Close()
}

// complete runs one bounded attempt per try. Timeouts and unavailability are
// retried with exponential backoff; malformed output is returned at once.
func (a *Adapter) complete(ctx context.Context, intent string, p Prompt) (string, error) {
	logger := a.logger().With(zap.String("intent", intent))
	if a.Provider == nil {
		return "", &Error{Kind: KindUnavailable, Err: errors.New("no classifier provider configured")}
	}
	provider, timeout := a.bounded()
	attempt := 0
	op := func() (string, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		out, err := provider.Complete(attemptCtx, p)
		if err == nil && strings.TrimSpace(out) == "" {
			err = &Error{Kind: KindMalformed, Provider: provider.Name(), Err: errors.New("empty completion")}
		}
		if err != nil {
			ce := asError(provider.Name(), err)
			if ce.Kind != KindTimeout && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				ce = &Error{Kind: KindTimeout, Provider: ce.Provider, Err: err}
			}
			if ce.Kind == KindMalformed || ctx.Err() != nil {
				return "", backoff.Permanent(ce)
			}
			return "", ce
		}
		return out, nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("classifier attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.String("kind", string(KindOf(err))),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}
	out, err := backoff.RetryNotifyWithData(op, a.backoff(ctx), notify)
	if err != nil {
		logger.Error("classifier call failed", zap.Int("attempts", attempt), zap.String("kind", string(KindOf(err))), zap.Error(err))
		var ce *Error
		if !errors.As(err, &ce) {
			err = asError(a.Provider.Name(), err)
		}
		return "", err
	}
	logger.Debug("classifier call succeeded", zap.Int("attempts", attempt), zap.Int("bytes", len(out)))
	return out, nil
}

// bounded returns the provider to call and the deadline of one attempt. A
// chain gets the configured timeout per provider and the attempt covers the
// whole chain.
func (a *Adapter) bounded() (Provider, time.Duration) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	chain, ok := a.Provider.(Chain)
	if !ok || len(chain.Providers) < 2 {
		return a.Provider, timeout
	}
	if chain.Timeout <= 0 {
		chain.Timeout = timeout
	}
	return chain, chain.Timeout * time.Duration(len(chain.Providers))
}

func (a *Adapter) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.InitialBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = defaultInitialBackoff
	}
	b.MaxInterval = a.MaxBackoff
	if b.MaxInterval <= 0 {
		b.MaxInterval = defaultMaxBackoff
	}
	b.MaxElapsedTime = 0
	b.Reset()
	retries := a.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func (a *Adapter) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}
