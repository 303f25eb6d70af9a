// Package parse turns raw game-log lines into typed events and learns
// prices from trade house searches. Parsing a line is pure; the exchange
// machine in exchange.go is the only stateful piece.
package parse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind discriminates parsed events.
type Kind int

const (
	KindNone Kind = iota
	KindBagModify
	KindBagInit
	KindBagRemove
	KindContextBegin
	KindContextEnd
	KindLevelOpen
	KindLevelEnter
	KindPlayerField
	KindXchgSend
	KindXchgRecv
	KindXchgEnd
	KindXchgRefer
	KindXchgCurrency
	KindXchgUnitPrice
)

// Context tags attached to deltas from the enclosing operation window.
const (
	ContextPickItems    = "PickItems"
	ContextMapOpen      = "MapOpen"
	ContextRecycle      = "Recycle"
	ContextExchangeBuy  = "ExchangeBuy"
	ContextExchangeSell = "ExchangeSell"
	ContextOther        = "Other"
)

// contextByProto maps the game's operation names to context tags. Unknown
// operations still bracket events but tag them Other.
var contextByProto = map[string]string{
	"PickItems":     ContextPickItems,
	"Spv3Open":      ContextMapOpen,
	"Spv3OpenLevel": ContextMapOpen,
	"RecycleItem":   ContextRecycle,
	"XchgBuyItem":   ContextExchangeBuy,
	"XchgSellItem":  ContextExchangeSell,
}

// ContextForProto resolves an operation name to its delta context tag.
func ContextForProto(proto string) string {
	if tag, ok := contextByProto[proto]; ok {
		return tag
	}
	return ContextOther
}

// Event is the parsed form of one log line. Fields beyond Kind and TS are
// populated per kind; the rest stay zero.
type Event struct {
	Kind Kind
	TS   time.Time

	// Bag events
	PageID       int
	SlotID       int
	ConfigBaseID int64
	Num          int64

	// Context windows
	Proto string

	// Level events
	ZonePath  string
	LevelUID  int64
	LevelType int
	LevelID   int64

	// Player identity
	Field string
	Value string

	// Exchange fragments
	SynID int64
	Price float64
}

var (
	reTimestamp = regexp.MustCompile(`^\[(\d{4}\.\d{2}\.\d{2})-(\d{2}\.\d{2}\.\d{2}):(\d{3})\]`)

	reBagModify = regexp.MustCompile(`GameLog:\s*Display:\s*\[Game\]\s*BagMgr@:Modfy\s+BagItem\s+PageId\s*=\s*(\d+)\s+SlotId\s*=\s*(\d+)\s+ConfigBaseId\s*=\s*(\d+)\s+Num\s*=\s*(-?\d+)`)
	reBagInit   = regexp.MustCompile(`GameLog:\s*Display:\s*\[Game\]\s*BagMgr@:Init\s+BagItem\s+PageId\s*=\s*(\d+)\s+SlotId\s*=\s*(\d+)\s+ConfigBaseId\s*=\s*(\d+)\s+Num\s*=\s*(-?\d+)`)
	reBagRemove = regexp.MustCompile(`GameLog:\s*Display:\s*\[Game\]\s*BagMgr@:Remve\s+BagItem\s+PageId\s*=\s*(\d+)\s+SlotId\s*=\s*(\d+)`)

	reItemChange = regexp.MustCompile(`ItemChange@\s*ProtoName=(\w+)\s+(start|end)`)

	reLevelOpen = regexp.MustCompile(`SceneLevelMgr@\s+OpenMainWorld\s+END!\s+InMainLevelPath\s*=\s*(\S+)`)
	reLevelID   = regexp.MustCompile(`LevelMgr@\s+LevelUid,\s*LevelType,\s*LevelId\s*=\s*(\d+)\s+(\d+)\s+(\d+)`)

	rePlayerField = regexp.MustCompile(`PlayerMgr@\s+(RoleName|RoleLevel|SeasonId|SeasonName|HeroId|PlayerId)\s*=\s*(.+?)\s*$`)

	reXchgSend = regexp.MustCompile(`----Socket\s+SendMessage\s+STT----XchgSearchPrice----SynId\s*=\s*(\d+)`)
	reXchgRecv = regexp.MustCompile(`----Socket\s+RecvMessage\s+STT----XchgSearchPrice----SynId\s*=\s*(\d+)`)
	reXchgEnd  = regexp.MustCompile(`----Socket\s+(?:Send|Recv)Message\s+End----`)

	reXchgRefer     = regexp.MustCompile(`\+refer\s+\[(\d+)\]`)
	reXchgCurrency  = regexp.MustCompile(`\+prices\+\d+\+currency\s+\[(\d+)\]`)
	reXchgUnitPrice = regexp.MustCompile(`\+(?:unitPrices\+)?\d+\s+\[([0-9]+(?:\.[0-9]+)?)\]`)
)

// ParseLine classifies one log line. ok is false for lines the tracker has
// no use for; those are the overwhelming majority.
func ParseLine(line string, fallback time.Time) (Event, bool) {
	ev := Event{TS: parseTimestamp(line, fallback)}

	if m := reBagModify.FindStringSubmatch(line); m != nil {
		ev.Kind = KindBagModify
		ev.PageID = atoi(m[1])
		ev.SlotID = atoi(m[2])
		ev.ConfigBaseID = atoi64(m[3])
		ev.Num = atoi64(m[4])
		return ev, true
	}
	if m := reBagInit.FindStringSubmatch(line); m != nil {
		ev.Kind = KindBagInit
		ev.PageID = atoi(m[1])
		ev.SlotID = atoi(m[2])
		ev.ConfigBaseID = atoi64(m[3])
		ev.Num = atoi64(m[4])
		return ev, true
	}
	if m := reBagRemove.FindStringSubmatch(line); m != nil {
		ev.Kind = KindBagRemove
		ev.PageID = atoi(m[1])
		ev.SlotID = atoi(m[2])
		return ev, true
	}

	if m := reItemChange.FindStringSubmatch(line); m != nil {
		if m[2] == "start" {
			ev.Kind = KindContextBegin
		} else {
			ev.Kind = KindContextEnd
		}
		ev.Proto = m[1]
		return ev, true
	}

	if m := reLevelOpen.FindStringSubmatch(line); m != nil {
		ev.Kind = KindLevelOpen
		ev.ZonePath = strings.TrimSpace(m[1])
		return ev, true
	}
	if m := reLevelID.FindStringSubmatch(line); m != nil {
		ev.Kind = KindLevelEnter
		ev.LevelUID = atoi64(m[1])
		ev.LevelType = atoi(m[2])
		ev.LevelID = atoi64(m[3])
		return ev, true
	}

	if m := rePlayerField.FindStringSubmatch(line); m != nil {
		ev.Kind = KindPlayerField
		ev.Field = m[1]
		ev.Value = strings.TrimSpace(m[2])
		return ev, true
	}

	// Exchange fragments. STT/End markers before body lines: body patterns
	// are loose enough to shadow them otherwise.
	if m := reXchgSend.FindStringSubmatch(line); m != nil {
		ev.Kind = KindXchgSend
		ev.SynID = atoi64(m[1])
		return ev, true
	}
	if m := reXchgRecv.FindStringSubmatch(line); m != nil {
		ev.Kind = KindXchgRecv
		ev.SynID = atoi64(m[1])
		return ev, true
	}
	if reXchgEnd.MatchString(line) {
		ev.Kind = KindXchgEnd
		return ev, true
	}
	if m := reXchgRefer.FindStringSubmatch(line); m != nil {
		ev.Kind = KindXchgRefer
		ev.ConfigBaseID = atoi64(m[1])
		return ev, true
	}
	if m := reXchgCurrency.FindStringSubmatch(line); m != nil {
		ev.Kind = KindXchgCurrency
		ev.ConfigBaseID = atoi64(m[1])
		return ev, true
	}
	if m := reXchgUnitPrice.FindStringSubmatch(line); m != nil {
		ev.Kind = KindXchgUnitPrice
		ev.Price, _ = strconv.ParseFloat(m[1], 64)
		return ev, true
	}

	return Event{}, false
}

// parseTimestamp reads the UE log prefix [2026.05.01-10.32.05:123]. Lines
// without one (continuation lines, socket dumps) get the fallback clock.
func parseTimestamp(line string, fallback time.Time) time.Time {
	m := reTimestamp.FindStringSubmatch(line)
	if m == nil {
		return fallback
	}
	t, err := time.ParseInLocation("2006.01.02-15.04.05", m[1]+"-"+m[2], time.Local)
	if err != nil {
		return fallback
	}
	ms := atoi(m[3])
	return t.Add(time.Duration(ms) * time.Millisecond)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
