package auditor

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/config"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/service"
	pkglog "github.com/weiawesome/wes-io-live/social-graph-engine/pkg/log"
)

// HotKeySource yields the accounts read most since the last reset.
type HotKeySource interface {
	GetTopHotKeys(ctx context.Context, n int64) ([]string, error)
	ResetHotKeyScores(ctx context.Context) error
}

// Summary totals one audit pass.
type Summary struct {
	Audited    int
	Violations int
	Repaired   int
}

// Auditor periodically checks the hottest accounts for follow-graph
// inconsistencies and, when enabled, removes references to deleted accounts.
type Auditor struct {
	source HotKeySource
	svc    service.SocialGraphService
	cfg    config.AuditorConfig
	quit   chan struct{}
	doneCh chan struct{}
}

// New creates a new Auditor.
func New(source HotKeySource, svc service.SocialGraphService, cfg config.AuditorConfig) *Auditor {
	return &Auditor{
		source: source,
		svc:    svc,
		cfg:    cfg,
		quit:   make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the auditor in a background goroutine.
func (a *Auditor) Start(ctx context.Context) {
	go a.run(ctx)
}

// Stop signals the auditor to stop and returns immediately.
// Call Done() to wait for it to exit.
func (a *Auditor) Stop() {
	close(a.quit)
}

// Done returns a channel that is closed when the auditor has fully stopped.
func (a *Auditor) Done() <-chan struct{} {
	return a.doneCh
}

func (a *Auditor) run(ctx context.Context) {
	defer close(a.doneCh)

	interval := a.cfg.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.RunOnce(ctx)
		}
	}
}

// RunOnce audits the current top-N hot accounts and resets the scores.
func (a *Auditor) RunOnce(ctx context.Context) Summary {
	l := pkglog.L()
	var sum Summary

	topN := int64(a.cfg.TopN)
	if topN <= 0 {
		topN = 100
	}

	ids, err := a.source.GetTopHotKeys(ctx, topN)
	if err != nil {
		l.Error().Err(err).Msg("auditor: failed to get top hot keys")
		return sum
	}
	if len(ids) == 0 {
		l.Debug().Msg("auditor: no hot keys to audit")
		return sum
	}

	for _, id := range ids {
		report, err := a.svc.AuditAccount(ctx, id, a.cfg.Repair)
		if err != nil {
			if errors.Is(err, service.ErrAccountNotFound) {
				continue
			}
			l.Error().Err(err).Str("account_id", id).Msg("auditor: failed to audit account")
			continue
		}
		sum.Audited++
		sum.Violations += len(report.Violations)
		sum.Repaired += report.Repaired
	}

	if err := a.source.ResetHotKeyScores(ctx); err != nil {
		l.Error().Err(err).Msg("auditor: failed to reset hot key scores")
	}

	l.Info().
		Int("audited", sum.Audited).
		Int("violations", sum.Violations).
		Int("repaired", sum.Repaired).
		Msg("auditor: pass complete")
	return sum
}
