package cloud

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"ti-tracker/internal/db"
	"ti-tracker/internal/gamedata"
	"ti-tracker/internal/logger"
)

const (
	uplinkInterval   = 60 * time.Second
	downlinkInterval = 5 * time.Minute
	uplinkBatch      = 25
	maxBackoff       = time.Hour
	maxOutboxDepth   = 5000
	historyWindow    = 72 * time.Hour
)

// Status is the sync state the API reports.
type Status struct {
	Enabled      bool       `json:"enabled"`
	Configured   bool       `json:"configured"`
	OutboxDepth  int        `json:"outboxDepth"`
	LastUplink   *time.Time `json:"lastUplink,omitempty"`
	LastDownlink *time.Time `json:"lastDownlink,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
}

// Worker runs the uplink and downlink loops. Both loops are no-ops while
// the cloud_enabled setting is off; the outbox keeps accumulating so a
// later opt-in uploads the backlog.
type Worker struct {
	store  *db.DB
	client *Client

	// Submission budget shared by both loops, stays under the remote's
	// per-device cap.
	limiter *rate.Limiter

	mu       sync.Mutex
	seasonID int
	scope    string
	lastUp   time.Time
	lastDown time.Time
	lastErr  string
	upKick   chan struct{}
	downKick chan struct{}
}

func NewWorker(store *db.DB, client *Client) *Worker {
	return &Worker{
		store:    store,
		client:   client,
		limiter:  rate.NewLimiter(rate.Every(time.Hour/submissionsPerHour), 5),
		upKick:   make(chan struct{}, 1),
		downKick: make(chan struct{}, 1),
	}
}

// SetSeason points the downlink at a season. Zero disables downloads
// until the collector identifies a player.
func (w *Worker) SetSeason(seasonID int) {
	w.mu.Lock()
	changed := w.seasonID != seasonID
	w.seasonID = seasonID
	w.mu.Unlock()
	if changed && seasonID != 0 {
		w.SyncNow()
	}
}

// SetScope points the history downlink at a player scope. Empty keeps the
// season-price sync running without per-item history.
func (w *Worker) SetScope(scope string) {
	w.mu.Lock()
	changed := w.scope != scope
	w.scope = scope
	w.mu.Unlock()
	if changed && scope != "" {
		w.SyncNow()
	}
}

// SyncNow nudges both loops without waiting for their tickers.
func (w *Worker) SyncNow() {
	select {
	case w.upKick <- struct{}{}:
	default:
	}
	select {
	case w.downKick <- struct{}{}:
	default:
	}
}

// Status reports the current sync state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{
		Enabled:    w.store.GetSettingBool(db.SettingCloudEnabled, false),
		Configured: w.client != nil,
		LastError:  w.lastErr,
	}
	if depth, err := w.store.OutboxDepth(); err == nil {
		s.OutboxDepth = depth
	}
	if !w.lastUp.IsZero() {
		t := w.lastUp
		s.LastUplink = &t
	}
	if !w.lastDown.IsZero() {
		t := w.lastDown
		s.LastDownlink = &t
	}
	return s
}

// Run drives both loops until ctx is cancelled. Safe to call with a nil
// client; the worker then only trims the outbox.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.uplinkLoop(ctx) })
	g.Go(func() error { return w.downlinkLoop(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) enabled() bool {
	return w.client != nil && w.store.GetSettingBool(db.SettingCloudEnabled, false)
}

func (w *Worker) setErr(err error) {
	w.mu.Lock()
	if err != nil {
		w.lastErr = err.Error()
	} else {
		w.lastErr = ""
	}
	w.mu.Unlock()
}

func (w *Worker) uplinkLoop(ctx context.Context) error {
	ticker := time.NewTicker(uplinkInterval)
	defer ticker.Stop()

	for {
		if trimmed, err := w.store.TrimOutbox(maxOutboxDepth); err == nil && trimmed > 0 {
			logger.Warn("Cloud", "outbox over %d rows, dropped %d oldest", maxOutboxDepth, trimmed)
		}
		if w.enabled() {
			w.drainOutbox(ctx)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-w.upKick:
		}
	}
}

func (w *Worker) drainOutbox(ctx context.Context) {
	deviceID, err := w.store.DeviceID()
	if err != nil {
		w.setErr(err)
		return
	}
	w.mu.Lock()
	seasonID := w.seasonID
	w.mu.Unlock()

	due, err := w.store.DueSubmissions(time.Now(), uplinkBatch)
	if err != nil {
		w.setErr(err)
		return
	}

	for _, row := range due {
		// FE is the unit of account; a submission for it is meaningless.
		if row.ConfigBaseID == gamedata.FEConfigBaseID {
			w.store.RemoveSubmission(row.ID)
			continue
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}

		err := w.client.SubmitPrice(ctx, Submission{
			DeviceID:     deviceID,
			ConfigBaseID: row.ConfigBaseID,
			Price:        row.Price,
			SeasonID:     seasonID,
			ObservedAt:   row.ObservedAt,
		})
		switch {
		case err == nil:
			w.store.RemoveSubmission(row.ID)
		case !Retryable(err):
			logger.Warn("Cloud", "submission %d rejected, dropping: %v", row.ID, err)
			w.store.RemoveSubmission(row.ID)
		default:
			next := time.Now().Add(backoff(row.Attempts+1, err))
			w.store.BumpAttempt(row.ID, next, err.Error())
			w.setErr(err)
			return // one transport failure means the rest will fail too
		}
	}
	w.mu.Lock()
	w.lastUp = time.Now()
	w.mu.Unlock()
	w.setErr(nil)
}

// backoff is 2^attempts seconds, capped at an hour. A server-provided
// Retry-After wins when it is longer.
func backoff(attempts int, err error) time.Duration {
	d := time.Second
	for i := 0; i < attempts && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > d {
		d = apiErr.RetryAfter
	}
	return d
}

func (w *Worker) downlinkLoop(ctx context.Context) error {
	ticker := time.NewTicker(downlinkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-w.downKick:
		}

		if !w.enabled() {
			continue
		}
		w.mu.Lock()
		scope := w.scope
		w.mu.Unlock()
		if err := w.downlink(ctx, scope); err != nil {
			logger.Warn("Cloud", "downlink failed: %v", err)
			w.setErr(err)
		}
	}
}

// downlink refreshes the aggregated season prices plus recent history for
// the items actually sitting in the inventory. scope may be empty; it only
// narrows the history fetch.
func (w *Worker) downlink(ctx context.Context, scope string) error {
	w.mu.Lock()
	seasonID := w.seasonID
	w.mu.Unlock()
	if seasonID == 0 {
		return nil
	}

	prices, err := w.client.FetchSeasonPrices(ctx, seasonID)
	if err != nil {
		return err
	}
	if err := w.store.UpsertCloudPrices(prices); err != nil {
		return err
	}

	// History is fetched only for held items; pulling the whole season's
	// curve set would be thousands of requests for charts nobody opens.
	if scope != "" {
		if err := w.downlinkHistory(ctx, scope); err != nil {
			return err
		}
	}

	now := time.Now()
	w.mu.Lock()
	w.lastDown = now
	w.mu.Unlock()
	w.store.SetSettingTime(db.SettingLastDownlink, now)
	w.store.PrunePriceHistory(now.Add(-2 * historyWindow))
	w.setErr(nil)
	logger.Info("Cloud", "downlinked %d prices for season %d", len(prices), seasonID)
	return nil
}

// errHistoryThrottled aborts the remaining history fetches after a 429.
var errHistoryThrottled = errors.New("history fetch rate limited")

// historyFetchParallel bounds concurrent per-item history requests.
const historyFetchParallel = 4

func (w *Worker) downlinkHistory(ctx context.Context, scope string) error {
	if until := w.store.GetSettingTime(db.SettingHistoryBackoff); time.Now().Before(until) {
		return nil
	}
	ids, err := w.store.InventoryTypeIDs(scope)
	if err != nil {
		return err
	}
	since := time.Now().Add(-historyWindow)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(historyFetchParallel)
	for _, id := range ids {
		if id == gamedata.FEConfigBaseID {
			continue
		}
		g.Go(func() error {
			points, err := w.client.FetchHistory(ctx, id, since)
			if err != nil {
				var apiErr *APIError
				if errors.As(err, &apiErr) && apiErr.Status == 429 {
					wait := apiErr.RetryAfter
					if wait == 0 {
						wait = 15 * time.Minute
					}
					w.store.SetSettingTime(db.SettingHistoryBackoff, time.Now().Add(wait))
					return errHistoryThrottled
				}
				return err
			}
			return w.store.UpsertPriceHistory(id, points)
		})
	}
	if err := g.Wait(); err != nil {
		// One 429 backs the whole feature off rather than hammering
		// per-item endpoints.
		if errors.Is(err, errHistoryThrottled) {
			return nil
		}
		return err
	}
	return nil
}

// DownlinkNow runs one synchronous downlink for the given scope, used by
// the manual sync endpoint so the caller sees fresh data on return.
func (w *Worker) DownlinkNow(ctx context.Context, scope string) error {
	if !w.enabled() {
		return errors.New("cloud sync is disabled")
	}
	return w.downlink(ctx, scope)
}
