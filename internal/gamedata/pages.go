package gamedata

// Bag page ids as reported by BagMgr.
const (
	PageGear      = 100
	PageSkill     = 101
	PageCommodity = 102
	PageMisc      = 103
)

// FEConfigBaseID is Flame Elementium, the unit of account all prices are
// denominated in. Trade tax never applies to it.
const FEConfigBaseID int64 = 100300

var pageNames = map[int]string{
	PageGear:      "Gear",
	PageSkill:     "Skill",
	PageCommodity: "Commodity",
	PageMisc:      "Misc",
}

// PageName returns a display label for a bag page id.
func PageName(pageID int) string {
	if name, ok := pageNames[pageID]; ok {
		return name
	}
	return "Unknown"
}

// TrackedPage reports whether slot changes on a page feed the loot ledger.
// Gear is tracked too, but filtered per item through the gear allowlist.
func TrackedPage(pageID int) bool {
	_, ok := pageNames[pageID]
	return ok
}

// allowedGearTypeCN lists the Chinese category names of gear-page items that
// still count as loot. Everything else on the gear page (equipment drops)
// is churn, not income.
var allowedGearTypeCN = map[string]bool{
	"记忆残章": true, // memory fragments
	"财宝图":  true, // treasure maps
	"星纪图":  true, // era maps
	"梦境卡牌": true, // dream cards
	"奇术卡牌": true, // arcana cards
	"辉石":   true, // glowstones
	"魂烛":   true, // soul candles
}

// GearTypeAllowed reports whether a gear-page item category is tracked.
func GearTypeAllowed(typeCN string) bool {
	return allowedGearTypeCN[typeCN]
}
