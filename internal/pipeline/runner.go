package pipeline

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	cmdpkg "github.com/stupiduntilnot/relaybot/internal/commander"
	"github.com/stupiduntilnot/relaybot/internal/db"
)

// UpdateHandler is implemented by Handler.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u cmdpkg.Update) error
}

// Runner long-polls a Source and dispatches updates concurrently.
type Runner struct {
	Source  cmdpkg.Source
	Handler UpdateHandler
	// DB, when set, deduplicates updates through the inbox table and
	// resumes from the stored offset.
	DB          *sql.DB
	Events      EventLogger
	Logger      *zap.Logger
	PollTimeout int
	MaxInFlight int
	// PollBackoff builds the delay schedule used after failed polls.
	PollBackoff   func() backoff.BackOff
	ParentEventID int64
}

func defaultPollBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run polls until ctx is cancelled, then waits for in-flight updates. It
// returns nil on cancellation.
func (r *Runner) Run(ctx context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newBackoff := r.PollBackoff
	if newBackoff == nil {
		newBackoff = defaultPollBackoff
	}
	pollBackoff := newBackoff()

	var offset int64
	if r.DB != nil {
		var err error
		if offset, err = db.DeriveOffset(r.DB); err != nil {
			return err
		}
	}

	var g errgroup.Group
	if r.MaxInFlight > 0 {
		g.SetLimit(r.MaxInFlight)
	}
	defer func() { _ = g.Wait() }()

	logger.Info("runner started", zap.Int64("offset", offset), zap.Int("max_in_flight", r.MaxInFlight))
	for ctx.Err() == nil {
		updates, err := r.Source.GetUpdates(ctx, offset, r.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			wait := pollBackoff.NextBackOff()
			if wait == backoff.Stop {
				wait = time.Second
			}
			logger.Warn("getUpdates failed", zap.Error(err), zap.Duration("backoff", wait))
			r.event(db.EventPollFailed, map[string]any{
				"error":      truncate(err.Error(), 500),
				"kind":       string(cmdpkg.DeliveryKindOf(err)),
				"backoff_ms": wait.Milliseconds(),
			})
			if !sleep(ctx, wait) {
				break
			}
			continue
		}
		pollBackoff.Reset()

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == nil || *u.Message.Text == "" {
				continue
			}
			if r.DB != nil {
				fresh, err := db.RecordUpdate(r.DB, u.UpdateID, u.Message.Chat.ID, *u.Message.Text, u.Message.Date)
				if err != nil {
					logger.Warn("failed to record update", zap.Int64("update_id", u.UpdateID), zap.Error(err))
					continue
				}
				if !fresh {
					r.event(db.EventDuplicateUpdate, map[string]any{"update_id": u.UpdateID})
					continue
				}
			}
			u := u
			g.Go(func() error {
				err := r.Handler.HandleUpdate(ctx, u)
				r.markUpdate(logger, u.UpdateID, err)
				return nil
			})
		}
	}
	logger.Info("runner stopping", zap.Int64("offset", offset))
	return nil
}

func (r *Runner) markUpdate(logger *zap.Logger, updateID int64, handleErr error) {
	if r.DB == nil {
		return
	}
	status, lastError := db.InboxDone, ""
	if handleErr != nil {
		status, lastError = db.InboxFailed, handleErr.Error()
	}
	if err := db.MarkUpdate(r.DB, updateID, status, lastError); err != nil {
		logger.Warn("failed to mark update", zap.Int64("update_id", updateID), zap.Error(err))
	}
}

func (r *Runner) event(eventType string, payload map[string]any) {
	if r.Events == nil {
		return
	}
	var parent *int64
	if r.ParentEventID != 0 {
		id := r.ParentEventID
		parent = &id
	}
	_, _ = r.Events.Log(parent, eventType, payload)
}

// sleep waits for d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
