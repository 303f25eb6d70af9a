package engine

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"ti-tracker/internal/db"
	"ti-tracker/internal/gamedata"
	"ti-tracker/internal/logger"
	"ti-tracker/internal/parse"
	"ti-tracker/internal/tail"
)

// PollInterval is the idle cadence of the ingest loop.
const PollInterval = 200 * time.Millisecond

// Note is one change notification published to the event feed.
type Note struct {
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload"`
}

// Notification kinds.
const (
	NoteDelta    = "delta"
	NoteRunOpen  = "run_open"
	NoteRunClose = "run_close"
	NotePrice    = "price"
	NoteScope    = "scope"
)

// Status is the collector's externally visible state, served by /api/status.
type Status struct {
	Running          bool   `json:"running"`
	WaitingForPlayer bool   `json:"waiting_for_player"`
	LogPathMissing   bool   `json:"log_path_missing"`
	LogPath          string `json:"log_path"`
	Offset           int64  `json:"offset"`
	Scope            string `json:"scope"`
	SeasonID         int    `json:"season_id"`
	ZoneName         string `json:"zone_name"`
	LinesProcessed   int64  `json:"lines_processed"`
}

// Collector owns the live ingest pipeline: it tails the game log, parses
// lines, folds bag events through the delta engine, segments runs, learns
// exchange prices and persists everything in per-poll batches. All of that
// happens on the single goroutine running Run; Status and the notification
// sink are the only concurrent surfaces.
type Collector struct {
	store   *db.DB
	catalog *gamedata.Catalog
	logPath string

	reader *tail.Reader
	deltas *DeltaEngine
	seg    *Segmenter
	player *PlayerContext
	xchg   *parse.ExchangeParser

	// Current ItemChange bracket; Other outside any bracket.
	contextTag string

	// LevelOpen waiting for its LevelMgr id line.
	pendingVisit *Visit

	notify        func(Note)
	onScopeChange func(scope string, seasonID int)

	mu     sync.Mutex
	status Status
}

// NewCollector wires a collector over the store and catalog. notify and
// onScopeChange may be nil.
func NewCollector(store *db.DB, catalog *gamedata.Catalog, logPath string, notify func(Note), onScopeChange func(string, int)) *Collector {
	if notify == nil {
		notify = func(Note) {}
	}
	if onScopeChange == nil {
		onScopeChange = func(string, int) {}
	}
	return &Collector{
		store:         store,
		catalog:       catalog,
		logPath:       logPath,
		deltas:        NewDeltaEngine(catalog),
		player:        NewPlayerContext(),
		xchg:          parse.NewExchangeParser(),
		contextTag:    parse.ContextOther,
		notify:        notify,
		onScopeChange: onScopeChange,
		status:        Status{LogPath: logPath},
	}
}

// Start initializes state from the store and the log file: the persisted
// tail offset, the active scope (pre-seeded from a bounded backward scan
// when the store has none), slot state and any open runs. Must run before
// the first Poll.
func (c *Collector) Start() error {
	offset := int64(0)
	fp := ""
	pos, err := c.store.LoadLogPosition()
	if err != nil {
		return err
	}
	if pos != nil && pos.Path == c.logPath {
		offset = pos.Offset
		fp = pos.Fingerprint
	}

	scope := c.store.ActiveScope()
	if scope == nil {
		// First run against this store: scan the tail of an existing log
		// for identity lines before any writes happen, then start at EOF.
		c.preseedFromLog()
		if c.player.Identified() {
			if err := c.store.ActivateScope(c.player.Snapshot()); err != nil {
				return err
			}
		}
		if offset == 0 {
			offset = c.fileSize()
		}
	} else {
		c.player.LoadScope(scope)
	}

	c.reader = tail.NewReader(c.logPath, offset, fp)

	if c.player.Identified() {
		if err := c.activateScope(); err != nil {
			return err
		}
	}

	c.setStatus(func(s *Status) {
		s.Offset = offset
		s.Scope = c.player.Scope()
		s.SeasonID = c.player.SeasonID()
		s.WaitingForPlayer = !c.player.Identified()
	})
	return nil
}

// Run polls the log until ctx is cancelled. Poll errors are absorbed: a
// missing file means the game is not running, everything else is logged
// and retried next tick.
func (c *Collector) Run(ctx context.Context) error {
	c.setStatus(func(s *Status) { s.Running = true })
	defer c.setStatus(func(s *Status) { s.Running = false })

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Poll(); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					c.setStatus(func(s *Status) { s.LogPathMissing = true })
					continue
				}
				logger.Warn("Collector", "poll: %v", err)
			}
		}
	}
}

// Poll consumes the lines appended since the last call and commits one
// batch. Exported for the headless CLI and tests.
func (c *Collector) Poll() (int, error) {
	lines, err := c.reader.Poll()
	if err != nil {
		return 0, err
	}
	c.setStatus(func(s *Status) { s.LogPathMissing = false })
	if len(lines) == 0 {
		return 0, nil
	}

	batch := &db.PollBatch{Scope: c.player.Scope()}
	now := time.Now()
	for _, line := range lines {
		if err := c.processLine(line, now, batch); err != nil {
			return 0, err
		}
	}
	if err := c.commit(batch); err != nil {
		return 0, err
	}
	c.setStatus(func(s *Status) {
		s.Offset = c.reader.Offset()
		s.LinesProcessed += int64(len(lines))
	})
	return len(lines), nil
}

// ProcessLines feeds raw lines through the pipeline and commits them as
// one batch, bypassing the file reader. Used by tests and backfills.
func (c *Collector) ProcessLines(lines []string, now time.Time) error {
	batch := &db.PollBatch{Scope: c.player.Scope()}
	for _, line := range lines {
		if err := c.processLine(line, now, batch); err != nil {
			return err
		}
	}
	return c.commit(batch)
}

func (c *Collector) processLine(line string, now time.Time, batch *db.PollBatch) error {
	ev, ok := parse.ParseLine(line, now)
	if !ok {
		return nil
	}

	switch ev.Kind {
	case parse.KindXchgSend, parse.KindXchgRecv, parse.KindXchgEnd,
		parse.KindXchgRefer, parse.KindXchgCurrency, parse.KindXchgUnitPrice:
		if learned := c.xchg.Feed(ev); learned != nil {
			return c.handleLearnedPrice(learned)
		}
		return nil

	case parse.KindContextBegin:
		c.contextTag = parse.ContextForProto(ev.Proto)
		return nil
	case parse.KindContextEnd:
		c.contextTag = parse.ContextOther
		return nil

	case parse.KindPlayerField:
		return c.handlePlayerField(ev, batch)

	case parse.KindLevelOpen:
		return c.handleLevelOpen(ev)
	case parse.KindLevelEnter:
		return c.handleLevelEnter(ev)

	case parse.KindBagModify, parse.KindBagInit, parse.KindBagRemove:
		c.handleBagEvent(ev, batch)
		return nil
	}
	return nil
}

func (c *Collector) handleBagEvent(ev parse.Event, batch *db.PollBatch) {
	// Without an identified player there is no scope to write under.
	if !c.player.Identified() {
		return
	}
	changes, writes := c.deltas.Apply(ev)
	batch.Slots = append(batch.Slots, writes...)

	runID := c.seg.ActiveRunID()
	for _, ch := range changes {
		dw := db.DeltaWrite{
			TS:           ev.TS,
			RunID:        runID,
			PageID:       ch.PageID,
			SlotID:       ch.SlotID,
			ConfigBaseID: ch.ConfigBaseID,
			Delta:        ch.Delta,
			Context:      c.contextTag,
		}
		batch.Deltas = append(batch.Deltas, dw)
		c.notify(Note{Kind: NoteDelta, Payload: map[string]interface{}{
			"config_base_id": ch.ConfigBaseID,
			"delta":          ch.Delta,
			"context":        c.contextTag,
			"run_id":         runID,
			"ts":             ev.TS,
		}})
	}
}

func (c *Collector) handleLevelOpen(ev parse.Event) error {
	if !c.player.Identified() {
		return nil
	}
	// An unpaired earlier open fires now with whatever it had; its id line
	// never arrived.
	if c.pendingVisit != nil {
		if err := c.enter(*c.pendingVisit); err != nil {
			return err
		}
		c.pendingVisit = nil
	}
	if gamedata.IsHubPath(ev.ZonePath) {
		// Hubs need no id line: close out immediately and report the zone.
		c.setStatus(func(s *Status) { s.ZoneName = gamedata.ZoneDisplayName(ev.ZonePath, 0) })
		return c.enter(Visit{ZonePath: ev.ZonePath, TS: ev.TS})
	}
	c.pendingVisit = &Visit{ZonePath: ev.ZonePath, TS: ev.TS}
	return nil
}

func (c *Collector) handleLevelEnter(ev parse.Event) error {
	if c.pendingVisit == nil || !c.player.Identified() {
		return nil
	}
	v := *c.pendingVisit
	c.pendingVisit = nil
	v.LevelUID = ev.LevelUID
	v.LevelType = ev.LevelType
	v.LevelID = ev.LevelID
	return c.enter(v)
}

func (c *Collector) enter(v Visit) error {
	closed, opened, err := c.seg.Enter(v)
	if err != nil {
		return err
	}
	for _, r := range closed {
		c.notify(Note{Kind: NoteRunClose, Payload: r})
	}
	if opened != nil {
		c.setStatus(func(s *Status) { s.ZoneName = opened.ZoneName })
		c.notify(Note{Kind: NoteRunOpen, Payload: opened})
	}
	return nil
}

func (c *Collector) handlePlayerField(ev parse.Event, batch *db.PollBatch) error {
	changed := c.player.Observe(ev)
	if !changed {
		if c.player.Identified() {
			// Keep level/hero fresh without rewriting the whole row.
			return c.store.TouchScope(c.player.Snapshot())
		}
		return nil
	}

	// Scope switch. Everything staged so far belongs to the old scope:
	// commit it first, close its runs, then rebase on the new partition.
	if err := c.commit(batch); err != nil {
		return err
	}
	*batch = db.PollBatch{Scope: c.player.Scope()}

	if c.seg != nil {
		closed, err := c.seg.Flush(ev.TS)
		if err != nil {
			return err
		}
		for _, r := range closed {
			c.notify(Note{Kind: NoteRunClose, Payload: r})
		}
	}

	if err := c.store.ActivateScope(c.player.Snapshot()); err != nil {
		return err
	}
	if err := c.activateScope(); err != nil {
		return err
	}

	scope, season := c.player.Scope(), c.player.SeasonID()
	logger.Info("Collector", "Active player: %s (season %d)", scope, season)
	c.setStatus(func(s *Status) {
		s.Scope = scope
		s.SeasonID = season
		s.WaitingForPlayer = false
	})
	c.notify(Note{Kind: NoteScope, Payload: map[string]interface{}{"scope": scope, "season_id": season}})
	c.onScopeChange(scope, season)
	return nil
}

// activateScope loads the new scope's slot snapshot and run state.
func (c *Collector) activateScope() error {
	scope := c.player.Scope()
	slots, err := c.store.LoadSlots(scope)
	if err != nil {
		return err
	}
	c.deltas.Load(slots)
	c.seg = NewSegmenter(c.store, scope)
	c.pendingVisit = nil
	return c.seg.Resume()
}

func (c *Collector) handleLearnedPrice(learned *parse.PriceLearned) error {
	if !c.player.Identified() {
		return nil
	}
	p := &db.LocalPrice{
		Scope:        c.player.Scope(),
		ConfigBaseID: learned.ConfigBaseID,
		Price:        learned.Price,
		Source:       db.PriceSourceExchange,
		ListingCount: learned.Listings,
		UpdatedAt:    learned.ObservedAt,
	}
	if err := c.store.UpsertLocalPrice(p); err != nil {
		return err
	}
	if learned.ConfigBaseID != gamedata.FEConfigBaseID {
		if err := c.store.EnqueuePrice(learned.ConfigBaseID, learned.Price, learned.ObservedAt); err != nil {
			return err
		}
	}
	logger.Info("Prices", "Learned %s = %.4f FE (%d listings)",
		c.catalog.Name(learned.ConfigBaseID), learned.Price, learned.Listings)
	c.notify(Note{Kind: NotePrice, Payload: p})
	return nil
}

// commit writes the staged batch with the current tail offset. Empty
// batches still advance the offset so restarts skip already-seen lines.
func (c *Collector) commit(batch *db.PollBatch) error {
	if batch.Scope == "" && len(batch.Slots) == 0 && len(batch.Deltas) == 0 {
		if c.reader == nil {
			return nil
		}
		return c.store.SaveLogPosition(c.logPath, c.reader.Offset(), c.reader.Fingerprint())
	}
	batch.LogPath = c.logPath
	if c.reader != nil {
		batch.LogOffset = c.reader.Offset()
		batch.LogFingerprint = c.reader.Fingerprint()
	}
	return c.store.ApplyPollBatch(batch)
}

// ResetRuns wipes run and delta history, fast-forwards past any unread log
// backlog and resets in-memory segmentation. Slot state, prices, items and
// settings survive.
func (c *Collector) ResetRuns() error {
	if err := c.store.ResetRuns(); err != nil {
		return err
	}
	if c.seg != nil {
		c.seg.ResetState()
	}
	c.pendingVisit = nil
	if c.reader != nil {
		return c.store.SaveLogPosition(c.logPath, c.reader.Offset(), c.reader.Fingerprint())
	}
	return nil
}

// Status returns a copy of the collector's current state.
func (c *Collector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.status
	s.LogPathMissing = s.LogPathMissing || c.logPath == ""
	return s
}

// Scope returns the active partition key, "" while waiting for a player.
func (c *Collector) Scope() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.Scope
}

// SeasonID returns the active season partition.
func (c *Collector) SeasonID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.SeasonID
}

func (c *Collector) setStatus(f func(*Status)) {
	c.mu.Lock()
	f(&c.status)
	c.mu.Unlock()
}

// preseedFromLog scans the last few MiB of an existing log for player
// identity lines so the scope is known before live tailing begins.
func (c *Collector) preseedFromLog() {
	lines, err := tail.LastLines(c.logPath, tail.ScanbackBytes)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Collector", "scanback: %v", err)
		}
		return
	}
	now := time.Now()
	for _, line := range lines {
		if ev, ok := parse.ParseLine(line, now); ok && ev.Kind == parse.KindPlayerField {
			c.player.Observe(ev)
		}
	}
	if c.player.Identified() {
		logger.Info("Collector", "Pre-seeded player scope %s from log tail", c.player.Scope())
	}
}

// shutdown closes open runs in memory terms only: their rows stay open so
// a quick restart resumes them, and the tail offset is already persisted
// with the last batch.
func (c *Collector) shutdown() {
	logger.Info("Collector", "Stopped at offset %d", c.reader.Offset())
}

func (c *Collector) fileSize() int64 {
	info, err := os.Stat(c.logPath)
	if err != nil {
		return 0
	}
	return info.Size()
}
