package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"activity/models"
	"activity/supabase"
)

const (
	feedTable = "activities"
	feedView  = "activity_feed"

	defaultRetryBase     = 5 * time.Second
	defaultRetryCap      = 80 * time.Second
	defaultRetryMax      = 5
	defaultRefreshPerSec = 2.0
)

// FeedSynchronizer keeps an in-memory copy of the enriched feed in sync
// with the store. Every change notification triggers a full re-fetch; the
// list is always replaced wholesale, never patched, which keeps ordering
// correct at the cost of fetch volume. Fetches run on a single goroutine,
// so a slow older response can never overwrite a newer one.
type FeedSynchronizer struct {
	client *supabase.Client

	retryBase time.Duration
	retryCap  time.Duration
	retryMax  int

	// coalesces refresh bursts from notification storms
	limiter *rate.Limiter

	refresh chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	sub     *supabase.Subscription

	// onChange fires after a change notification is observed, before the
	// re-fetch. onRefresh fires after the list was replaced. onFetch fires
	// for every fetch attempt with its outcome, for metrics.
	onChange  []func(event supabase.RealtimeEvent)
	onRefresh []func(entries []models.Activity)
	onFetch   []func(status string, elapsed time.Duration)

	stateMu sync.RWMutex
	entries []models.Activity
	loading bool
	errMsg  string
}

// NewFeedSynchronizer builds a synchronizer with the given retry tuning.
// Zero values fall back to defaults.
func NewFeedSynchronizer(client *supabase.Client, retryBase, retryCap time.Duration, retryMax int, refreshPerSec float64) *FeedSynchronizer {
	if retryBase <= 0 {
		retryBase = defaultRetryBase
	}
	if retryCap <= 0 {
		retryCap = defaultRetryCap
	}
	if retryMax <= 0 {
		retryMax = defaultRetryMax
	}
	if refreshPerSec <= 0 {
		refreshPerSec = defaultRefreshPerSec
	}

	f := &FeedSynchronizer{
		client:    client,
		retryBase: retryBase,
		retryCap:  retryCap,
		retryMax:  retryMax,
		limiter:   rate.NewLimiter(rate.Limit(refreshPerSec), 1),
		refresh:   make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	f.loading = true
	return f
}

// OnChange registers a hook fired for every observed change notification.
func (f *FeedSynchronizer) OnChange(fn func(event supabase.RealtimeEvent)) {
	f.onChange = append(f.onChange, fn)
}

// OnRefresh registers a hook fired after every successful re-fetch.
func (f *FeedSynchronizer) OnRefresh(fn func(entries []models.Activity)) {
	f.onRefresh = append(f.onRefresh, fn)
}

// OnFetch registers a hook fired for every fetch attempt.
func (f *FeedSynchronizer) OnFetch(fn func(status string, elapsed time.Duration)) {
	f.onFetch = append(f.onFetch, fn)
}

// Start performs the initial fetch, subscribes to the change feed and
// runs the refresh loop until Close.
func (f *FeedSynchronizer) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	sub, err := f.client.Realtime().Subscribe(loopCtx, "public", feedTable, func(event supabase.RealtimeEvent) {
		log.Printf("feed change observed: %s on %s", event.Type, event.Table)
		for _, fn := range f.onChange {
			fn(event)
		}
		f.RequestRefresh()
	})
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to %s changes: %w", feedTable, err)
	}
	f.sub = sub

	go f.loop(loopCtx)
	f.RequestRefresh()
	return nil
}

// Close unsubscribes from the change feed and stops the loop. In-flight
// HTTP fetches are not cancelled beyond the context teardown.
func (f *FeedSynchronizer) Close() {
	if f.sub != nil {
		f.sub.Unsubscribe()
	}
	if f.cancel != nil {
		f.cancel()
	}
	<-f.done
}

// RequestRefresh schedules a full re-fetch. Safe from any goroutine;
// triggers arriving while one is pending collapse into it.
func (f *FeedSynchronizer) RequestRefresh() {
	select {
	case f.refresh <- struct{}{}:
	default:
	}
}

// Snapshot returns the current list, loading flag and error message.
// The returned slice is shared read-only state; callers must not mutate it.
func (f *FeedSynchronizer) Snapshot() ([]models.Activity, bool, string) {
	f.stateMu.RLock()
	defer f.stateMu.RUnlock()
	return f.entries, f.loading, f.errMsg
}

func (f *FeedSynchronizer) loop(ctx context.Context) {
	defer close(f.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.refresh:
			if err := f.limiter.Wait(ctx); err != nil {
				return
			}
			f.fetchWithRetry(ctx)
		}
	}
}

// fetchWithRetry runs one fetch and, on failure, retries with capped
// exponential backoff up to retryMax attempts. The counter resets on the
// next successful fetch simply by starting fresh on the next trigger.
func (f *FeedSynchronizer) fetchWithRetry(ctx context.Context) {
	delay := f.retryBase

	for attempt := 1; attempt <= f.retryMax; attempt++ {
		started := time.Now()
		err := f.fetchOnce(ctx)
		status := "ok"
		if err != nil {
			status = "error"
		}
		for _, fn := range f.onFetch {
			fn(status, time.Since(started))
		}
		if err == nil {
			return
		}

		msg := NormalizeFeedError(err)
		f.setError(msg)
		log.Printf("feed fetch failed (attempt %d/%d): %v", attempt, f.retryMax, err)

		if attempt == f.retryMax {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-f.refresh:
			// A fresh trigger arrived; retry immediately.
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.retryCap {
			delay = f.retryCap
		}
	}
}

// fetchOnce replaces the whole list from the enriched view. A single
// malformed record rejects the entire batch and keeps the previous list.
func (f *FeedSynchronizer) fetchOnce(ctx context.Context) error {
	var entries []models.Activity
	err := f.client.Database().
		From(feedView).
		Select("id,content,created_at,user_id,user_email,user_nickname").
		Order("created_at", supabase.OrderDesc).
		ExecuteInto(ctx, &entries)
	if err != nil {
		return err
	}

	if err := models.ValidateBatch(entries); err != nil {
		return fmt.Errorf("malformed feed batch: %w", err)
	}

	f.stateMu.Lock()
	f.entries = entries
	f.loading = false
	f.errMsg = ""
	f.stateMu.Unlock()

	for _, fn := range f.onRefresh {
		fn(entries)
	}
	return nil
}

func (f *FeedSynchronizer) setError(msg string) {
	f.stateMu.Lock()
	f.loading = false
	f.errMsg = msg
	f.stateMu.Unlock()
}

// NormalizeFeedError maps known fetch failures to user-facing messages.
func NormalizeFeedError(err error) string {
	switch {
	case supabase.IsJWTExpired(err):
		return "Your session has expired. Please sign in again."
	case supabase.IsPermissionDenied(err):
		return "You don't have permission to view the feed. Please sign in again."
	case isNetworkError(err):
		return "Network error while loading the feed. Retrying..."
	case errors.Is(err, models.ErrEmptyContent) || errors.Is(err, models.ErrNoTimestamp):
		return "The feed returned malformed data and was not updated."
	default:
		return "Failed to load the feed."
	}
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var supaErr *supabase.Error
	if errors.As(err, &supaErr) {
		return false
	}
	// Non-API errors out of the HTTP client are transport failures.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, sub := range []string{"request failed", "connection refused", "no such host", "network"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
