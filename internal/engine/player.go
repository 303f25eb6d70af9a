package engine

import (
	"fmt"
	"strconv"

	"ti-tracker/internal/db"
	"ti-tracker/internal/parse"
)

// PlayerContext accumulates PlayerMgr identity fields and derives the
// scope key all per-character state is partitioned by. A stable PlayerId
// scopes best; before one is seen, season+name has to do.
type PlayerContext struct {
	playerID   string
	roleName   string
	roleLevel  int
	seasonID   int
	seasonName string
	heroID     int
}

func NewPlayerContext() *PlayerContext {
	return &PlayerContext{}
}

// LoadScope seeds the context from a persisted scope row, so a restart
// does not wait for the game to print identity lines again.
func (p *PlayerContext) LoadScope(s *db.PlayerScope) {
	if s == nil {
		return
	}
	p.playerID = s.PlayerID
	p.roleName = s.RoleName
	p.roleLevel = s.RoleLevel
	p.seasonID = s.SeasonID
	p.seasonName = s.SeasonName
	p.heroID = s.HeroID
}

// Observe folds one PlayerField event in and reports whether the derived
// scope key changed. Level and hero updates never change the scope.
func (p *PlayerContext) Observe(ev parse.Event) (scopeChanged bool) {
	before := p.Scope()
	switch ev.Field {
	case "PlayerId":
		p.playerID = ev.Value
	case "RoleName":
		p.roleName = ev.Value
	case "SeasonId":
		p.seasonID, _ = strconv.Atoi(ev.Value)
	case "SeasonName":
		p.seasonName = ev.Value
	case "RoleLevel":
		p.roleLevel, _ = strconv.Atoi(ev.Value)
	case "HeroId":
		p.heroID, _ = strconv.Atoi(ev.Value)
	}
	after := p.Scope()
	return after != "" && after != before
}

// Scope returns the current partition key: "p_{PlayerId}" when a stable id
// is known, "{SeasonId}_{RoleName}" otherwise, "" while unidentified.
func (p *PlayerContext) Scope() string {
	if p.playerID != "" {
		return "p_" + p.playerID
	}
	if p.roleName == "" {
		return ""
	}
	return fmt.Sprintf("%d_%s", p.seasonID, p.roleName)
}

// Identified reports whether enough identity has been observed to scope
// writes. The collector idles until this turns true.
func (p *PlayerContext) Identified() bool {
	return p.Scope() != ""
}

// SeasonID returns the season partition for prices and cloud sync.
func (p *PlayerContext) SeasonID() int { return p.seasonID }

// Snapshot returns the scope row to persist.
func (p *PlayerContext) Snapshot() *db.PlayerScope {
	return &db.PlayerScope{
		Scope:      p.Scope(),
		PlayerID:   p.playerID,
		SeasonID:   p.seasonID,
		SeasonName: p.seasonName,
		RoleName:   p.roleName,
		RoleLevel:  p.roleLevel,
		HeroID:     p.heroID,
	}
}
