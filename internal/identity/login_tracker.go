package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/saltstack/jema/internal/observability/logger"
)

type loginEvent struct {
	accountID int64
	at        time.Time
}

// LoginTracker records last-login bumps off the request path. Record never
// blocks: when the queue is full the bump is dropped.
type LoginTracker struct {
	accounts AccountRepository
	queue    chan loginEvent
	now      func() time.Time
}

// NewLoginTracker creates a tracker with a queue of the given size.
func NewLoginTracker(accounts AccountRepository, size int) *LoginTracker {
	if size <= 0 {
		size = 256
	}
	return &LoginTracker{
		accounts: accounts,
		queue:    make(chan loginEvent, size),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Record queues a last-login bump for accountID.
func (t *LoginTracker) Record(_ context.Context, accountID int64) {
	select {
	case t.queue <- loginEvent{accountID: accountID, at: t.now()}:
	default:
		slog.Debug("last login bump dropped", logger.AccountID(accountID))
	}
}

// Run writes queued bumps until ctx is done, then drains what is left.
func (t *LoginTracker) Run(ctx context.Context) {
	for {
		select {
		case ev := <-t.queue:
			t.flush(ctx, ev)
		case <-ctx.Done():
			t.drain()
			return
		}
	}
}

func (t *LoginTracker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-t.queue:
			t.flush(ctx, ev)
		default:
			return
		}
	}
}

func (t *LoginTracker) flush(ctx context.Context, ev loginEvent) {
	if err := t.accounts.TouchLastLogin(ctx, ev.accountID, ev.at); err != nil {
		slog.WarnContext(ctx, "failed to update last login",
			logger.AccountID(ev.accountID),
			logger.Error(err),
		)
	}
}
