package completer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/armchr/lspcomplete/internal/util"

	"go.uber.org/zap"
)

const DefaultTimeout = time.Second

// Reconciliator fans a request out to several providers and merges their
// replies into one.
type Reconciliator struct {
	providers []Provider
	context   *Context
	timeout   time.Duration
	logger    *zap.Logger

	generation atomic.Uint64
}

// NewReconciliator creates a reconciliator. Provider order decides which
// duplicate survives and which provider answers hint queries. A
// non-positive timeout selects DefaultTimeout.
func NewReconciliator(providers []Provider, c *Context, timeout time.Duration, logger *zap.Logger) *Reconciliator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciliator{
		providers: providers,
		context:   c,
		timeout:   timeout,
		logger:    logger,
	}
}

func (r *Reconciliator) Providers() []Provider {
	return r.providers
}

// ApplicableProviders asks every provider concurrently whether it applies,
// keeping configured order. A provider that errors is treated as not
// applicable.
func (r *Reconciliator) ApplicableProviders(ctx context.Context) []Provider {
	applicable := util.DoWorkList(r.providers, func(p Provider) bool {
		ok, err := r.isApplicable(ctx, p)
		if err != nil {
			r.logger.Warn("Completion provider applicability check failed",
				zap.String("provider", p.Identifier()), zap.Error(err))
			return false
		}
		return ok
	})

	out := make([]Provider, 0, len(r.providers))
	for i, p := range r.providers {
		if applicable[i] {
			out = append(out, p)
		}
	}
	return out
}

func (r *Reconciliator) isApplicable(ctx context.Context, p Provider) (ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ok, err = false, fmt.Errorf("provider %s panicked: %v", p.Identifier(), rec)
		}
	}()
	return p.IsApplicable(ctx, r.context)
}

type fetchOutcome struct {
	reply *Reply
	err   error
}

// Fetch queries the applicable providers and returns the merged reply. It
// returns nil when nothing answered, when the timeout expired before every
// provider settled, or when a newer Fetch started in the meantime.
func (r *Reconciliator) Fetch(ctx context.Context, req Request) *Reply {
	gen := r.generation.Add(1)

	providers := r.ApplicableProviders(ctx)
	if len(providers) == 0 {
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var outcomes []fetchOutcome
	done := make(chan struct{})
	go func() {
		defer close(done)
		outcomes = util.DoWorkList(providers, func(p Provider) fetchOutcome {
			return r.fetchOne(fetchCtx, p, req)
		})
	}()

	select {
	case <-done:
	case <-fetchCtx.Done():
		r.logger.Debug("Completion reconciliation timed out",
			zap.Duration("timeout", r.timeout), zap.Int("providers", len(providers)))
		return nil
	}

	if r.generation.Load() != gen {
		r.logger.Debug("Discarding superseded completion reply", zap.Uint64("generation", gen))
		return nil
	}

	return r.merge(req, providers, outcomes)
}

func (r *Reconciliator) fetchOne(ctx context.Context, p Provider, req Request) (out fetchOutcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = fetchOutcome{err: fmt.Errorf("provider %s panicked: %v", p.Identifier(), rec)}
		}
	}()
	reply, err := p.Fetch(ctx, req, r.context)
	return fetchOutcome{reply: reply, err: err}
}

// ShouldShowContinuousHint asks the first configured provider; providers
// without an opinion get the default rule.
func (r *Reconciliator) ShouldShowContinuousHint(visible bool, change SourceChange) bool {
	if len(r.providers) > 0 {
		if hinter, ok := r.providers[0].(ContinuousHinter); ok {
			return hinter.ShouldShowContinuousHint(visible, change, r.context)
		}
	}
	return DefaultShouldShowContinuousHint(visible, change)
}
