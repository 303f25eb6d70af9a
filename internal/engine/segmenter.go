package engine

import (
	"fmt"
	"time"

	"ti-tracker/internal/db"
	"ti-tracker/internal/gamedata"
)

// Visit is one completed level transition: the OpenMainWorld path paired
// with the LevelMgr ids that follow it. Ids are zero when the pairing line
// never arrived.
type Visit struct {
	ZonePath  string
	LevelUID  int64
	LevelType int
	LevelID   int64
	TS        time.Time
}

// Segmenter turns level transitions into run lifecycles for one player
// scope. It holds at most one open outer run and, inside it, at most one
// open sub-zone run; sub-zone excursions splice back into the outer run
// when the player returns to the same zone.
type Segmenter struct {
	store *db.DB
	scope string

	outer *db.Run
	sub   *db.Run
}

func NewSegmenter(store *db.DB, scope string) *Segmenter {
	return &Segmenter{store: store, scope: scope}
}

// Resume reloads open runs after a restart. Runs left open by an unclean
// shutdown are abandoned: their real end time is gone with the process.
func (s *Segmenter) Resume() error {
	open, err := s.store.OpenRuns(s.scope)
	if err != nil {
		return err
	}
	for _, r := range open {
		if r.IsSubZone && r.ParentRunID != nil {
			s.sub = r
		} else if s.outer == nil {
			s.outer = r
		}
	}
	return nil
}

// Active returns the run currently accruing loot: the sub-run while inside
// a sub-zone, otherwise the outer run, otherwise nil.
func (s *Segmenter) Active() *db.Run {
	if s.sub != nil {
		return s.sub
	}
	return s.outer
}

// ActiveRunID returns the id deltas should attribute to, or nil while idle.
func (s *Segmenter) ActiveRunID() *int64 {
	r := s.Active()
	if r == nil {
		return nil
	}
	id := r.ID
	return &id
}

// OuterRun returns the open outer run, nil while idle.
func (s *Segmenter) OuterRun() *db.Run { return s.outer }

// Enter processes one level transition. It returns the runs it closed (in
// closing order) and the run it opened, if any; both are already persisted.
func (s *Segmenter) Enter(v Visit) (closed []*db.Run, opened *db.Run, err error) {
	if gamedata.IsHubPath(v.ZonePath) {
		closed, err = s.Flush(v.TS)
		return closed, nil, err
	}

	sig := gamedata.ZoneSignature(v.ZonePath)
	isSub, subLabel := gamedata.IsSubZone(v.LevelType, v.LevelID, v.ZonePath)

	if isSub {
		// A sub-zone straight into another sub-zone closes the first
		// excursion; the outer run stays paused throughout.
		if s.sub != nil {
			if err := s.close(s.sub, v.TS); err != nil {
				return nil, nil, err
			}
			closed = append(closed, s.sub)
			s.sub = nil
		}
		if s.outer != nil {
			sub, err := s.open(v, sig, subLabel, &s.outer.ID)
			if err != nil {
				return closed, nil, err
			}
			s.sub = sub
			return closed, sub, nil
		}
		// Entered from a hub: the excursion stands alone as its own run.
		run, err := s.open(v, sig, subLabel, nil)
		if err != nil {
			return closed, nil, err
		}
		s.outer = run
		return closed, run, nil
	}

	// Returning from a sub-zone to the zone it was opened from resumes the
	// outer run: one excursion, one outer run, no third record.
	if s.sub != nil && s.outer != nil && sig == s.outer.ZoneSig {
		if err := s.close(s.sub, v.TS); err != nil {
			return nil, nil, err
		}
		closed = append(closed, s.sub)
		s.sub = nil
		return closed, nil, nil
	}

	// Anything else ends what was open and starts fresh. Re-entering the
	// same map (portal reset) counts as a new run too.
	flushed, err := s.Flush(v.TS)
	if err != nil {
		return flushed, nil, err
	}
	closed = append(closed, flushed...)

	run, err := s.open(v, sig, "", nil)
	if err != nil {
		return closed, nil, err
	}
	s.outer = run
	return closed, run, nil
}

// Flush closes every open run at ts, sub-run first. Used on hub entry,
// scope change and shutdown.
func (s *Segmenter) Flush(ts time.Time) ([]*db.Run, error) {
	var closed []*db.Run
	if s.sub != nil {
		if err := s.close(s.sub, ts); err != nil {
			return closed, err
		}
		closed = append(closed, s.sub)
		s.sub = nil
	}
	if s.outer != nil {
		if err := s.close(s.outer, ts); err != nil {
			return closed, err
		}
		closed = append(closed, s.outer)
		s.outer = nil
	}
	return closed, nil
}

// ResetState drops in-memory run tracking without touching the store.
// The collector uses it after a run-data reset.
func (s *Segmenter) ResetState() {
	s.outer = nil
	s.sub = nil
}

func (s *Segmenter) open(v Visit, sig, subLabel string, parentID *int64) (*db.Run, error) {
	name := subLabel
	if name == "" {
		name = gamedata.ZoneDisplayName(v.ZonePath, v.LevelID)
	}
	run := &db.Run{
		Scope:       s.scope,
		ZonePath:    v.ZonePath,
		ZoneSig:     sig,
		ZoneName:    name,
		LevelUID:    v.LevelUID,
		LevelType:   v.LevelType,
		LevelID:     v.LevelID,
		StartedAt:   v.TS,
		IsSubZone:   parentID != nil || subLabel != "",
		ParentRunID: parentID,
		Status:      db.RunOpen,
	}
	id, err := s.store.InsertRun(run)
	if err != nil {
		return nil, fmt.Errorf("open run: %w", err)
	}
	run.ID = id
	return run, nil
}

func (s *Segmenter) close(run *db.Run, ts time.Time) error {
	if err := s.store.CloseRun(run.ID, ts); err != nil {
		return fmt.Errorf("close run %d: %w", run.ID, err)
	}
	end := ts
	run.EndedAt = &end
	run.Status = db.RunClosed
	return nil
}
