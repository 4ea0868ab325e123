package cache

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/logger"
)

// RetentionConfig controls the idle-conversation sweep.
type RetentionConfig struct {
	Enabled bool
	Cron    string        // full cron syntax; empty means daily at 02:00
	Period  time.Duration // idle threshold; entries older than this go
}

const defaultRetentionCron = "0 2 * * *"

// StartRetention starts the sweep scheduler and returns a cancel func.
// Disabled retention returns a no-op cancel.
func (s *Store) StartRetention(ctx context.Context, cfg RetentionConfig) (context.CancelFunc, error) {
	if s == nil || s.db == nil || !cfg.Enabled {
		logger.Info("cache_retention_disabled")
		return func() {}, nil
	}
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = defaultRetentionCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("cache_retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("cache: invalid retention cron expression: %s", cfg.Cron)
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("cache: retention period must be positive")
	}

	logger.Info("cache_retention_enabled", "cron", cronExpr, "period", cfg.Period.String())
	ctx2, cancel := context.WithCancel(ctx)
	go s.runScheduler(ctx2, cronExpr, cfg.Period)
	return cancel, nil
}

// runScheduler sleeps until each next cron tick and sweeps.
func (s *Store) runScheduler(ctx context.Context, cronExpr string, period time.Duration) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("cache_retention_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("cache_retention_nexttick_failed", "cron", cronExpr, "error", err.Error())
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if n, err := s.SweepIdle(period); err != nil {
				logger.Error("cache_retention_run_error", "error", err.Error())
			} else if n > 0 {
				logger.Info("cache_retention_swept", "conversations", n)
			}
		case <-ctx.Done():
			logger.Info("cache_retention_stopping")
			return
		}
	}
}

// SweepIdle deletes every conversation whose last write is older than
// period, returning the number dropped. Exposed for on-demand runs.
func (s *Store) SweepIdle(period time.Duration) (int, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-period).UnixMilli()

	prefix := []byte("touch:conv:")
	iter, err := s.db.NewIter(nil)
	if err != nil {
		return 0, err
	}
	var idle []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		ts, err := strconv.ParseInt(string(iter.Value()), 10, 64)
		if err != nil || ts < cutoff {
			idle = append(idle, strings.TrimPrefix(string(iter.Key()), "touch:conv:"))
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}

	for _, id := range idle {
		if err := s.DropConversation(id); err != nil {
			return 0, err
		}
	}
	return len(idle), nil
}
