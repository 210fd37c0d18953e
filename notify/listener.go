package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Source builds the current snapshot for a user. name is the display name
// used in personalised titles.
type Source interface {
	Snapshot(ctx context.Context, userID string) (snap Snapshot, name string, err error)
}

// Listener polls every subscriber on a fixed interval and delivers the
// notifications produced by Diff.
type Listener struct {
	inbox    *Inbox
	source   Source
	interval time.Duration
	logger   *zap.Logger
}

func NewListener(inbox *Inbox, source Source, interval time.Duration, logger *zap.Logger) *Listener {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Listener{inbox: inbox, source: source, interval: interval, logger: logger.Named("notify")}
}

// Run checks immediately and then on every tick until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info("notification listener started", zap.Duration("interval", l.interval))
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		if n, err := l.Tick(ctx); err != nil {
			l.logger.Warn("notification check failed", zap.Error(err))
		} else if n > 0 {
			l.logger.Debug("notifications delivered", zap.Int("count", n))
		}
		select {
		case <-ctx.Done():
			l.logger.Info("notification listener stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one pass over all subscribers and returns the number of
// notifications delivered. A failure for one user is logged and does not
// stop the others.
func (l *Listener) Tick(ctx context.Context) (int, error) {
	ids, err := l.inbox.Subscribers(ctx)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return delivered, nil
		}
		n, err := l.check(ctx, id)
		if err != nil {
			l.logger.Warn("notification check failed for user", zap.String("user", id), zap.Error(err))
			continue
		}
		delivered += n
	}
	return delivered, nil
}

func (l *Listener) check(ctx context.Context, userID string) (int, error) {
	prev, ok, err := l.inbox.State(ctx, userID)
	if err != nil || !ok {
		return 0, err
	}
	snap, name, err := l.source.Snapshot(ctx, userID)
	if err != nil {
		return 0, err
	}
	out, next := Diff(prev, snap, name)
	ok, err = l.inbox.Advance(ctx, userID, next, out...)
	if err != nil || !ok {
		return 0, err
	}
	return len(out), nil
}
