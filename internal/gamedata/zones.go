// Package gamedata holds the static game tables: zone-name resolution,
// inventory page policy, sub-zone and hub detection, and the seed item
// catalog format. The tables are data, not behavior; update them as new
// league content ships.
package gamedata

import (
	"regexp"
	"strings"
)

// zoneEntry maps an internal path substring to an English display name.
// Entries are matched in order, so longer/suffixed patterns must precede
// their generic prefixes (DD_ShengTingZhuangYuan000 before DD_ShengTingZhuangYuan).
type zoneEntry struct {
	pattern string
	name    string
}

var zoneNames = []zoneEntry{
	// Voidlands variants that share a prefix with hideouts; keep first.
	{"DD_ShengTingZhuangYuan000", "Voidlands - Mundane Palace"},
	{"KD_YuanSuKuangDong000", "Voidlands - Elemental Mine"},

	// Hideouts / hubs
	{"XZ_YuJinZhiXiBiNanSuo", "Hideout - Ember's Rest"},
	{"DD_ShengTingZhuangYuan", "Hideout - Sacred Court Manor"},

	// Sandlord zone
	{"YunDuanLvZhou", "Cloud Oasis"},

	// Blistering Lava Sea
	{"KD_YuanSuKuangDong", "Blistering Lava Sea - Elemental Mine"},
	{"DD_ChaoBaiZhiLu", "Blistering Lava Sea - Path of Sacrifice"},
	{"SD_ShouGuSiDi", "Blistering Lava Sea - Dragonrest Cavern"},
	{"JH_ZuiRenMiDian", "Blistering Lava Sea - Where Lies Confession"},
	{"YJ_LuoRiQiongDi", "Blistering Lava Sea - Sunset Dome Bottom"},
	{"SQ_BianChuiZhiDi", "Blistering Lava Sea - Savage Grasslands"},
	{"JH_MengZhongShengDi", "Blistering Lava Sea - Shimmering Hall"},
	{"KD_AiRenDiSanCeng", "Blistering Lava Sea - Heart of the Mountains"},
	{"JH_ShengDeLanXiuDaoYuan", "Blistering Lava Sea - Confession Chapel"},
	{"SD_ShouGuLinDi", "Blistering Lava Sea - Twisted Valley"},
	{"DD_DiDuTingYuan200", "Blistering Lava Sea - Court of Darkness"},
	{"KD_RongHuoHeXin", "Blistering Lava Sea - Smelting Plant"},
	{"YanYuZhiGu", "Blistering Lava Sea - Hellfire Chasm"},

	// Glacial Abyss
	{"DD_TingYuanMiGong", "Glacial Abyss - High Court Maze"},
	{"YJ_XieDuYuZuo", "Glacial Abyss - Defiled Side Chamber"},
	{"DD_ZaWuJieQu", "Glacial Abyss - Deserted District"},
	{"SQ_MingShaJuLuo", "Glacial Abyss - Singing Sand"},
	{"SD_GeBuLinShanZhai", "Glacial Abyss - Shadow Outpost"},
	{"GeBuLinCunLuo", "Demiman Village"},
	{"KD_AiRenKuangDong", "Glacial Abyss - Abandoned Mines"},
	{"YL_YinYiZhiDi", "Glacial Abyss - Rainforest of Divine Legacy"},
	{"KD_WeiJiKuangDong", "Glacial Abyss - Swirling Mines"},
	{"YL_BeiFengLinDi", "Grimwind Woods"},
	{"SD_ZhongXiGaoQiang", "Glacial Abyss - Wall of the Last Breath"},
	{"SD_GeBuLinYingDi", "Glacial Abyss - Blustery Canyon"},
	{"YongShuangBingPo", "Glacial Abyss - Throne of Winter"},

	// Boss zones
	{"YJ_XiuShiShenYuan", "Rusted Abyss"},

	// Ruins of Aeterna
	{"CC1_SiWangMiCheng", "Ruins of Aeterna: Boundless"},
	{"XueYuRongLu", "The Frozen Canvas"},

	// Vorax
	{"DiXiaZhenSuo", "Vorax - Shelly's Operating Theater"},

	// Steel Forge
	{"JH_JueXingMiDian", "Steel Forge - Shrine of Despair"},
	{"JH_TongKuMiDian", "Steel Forge - Shrine of Punishment"},
	{"SD_YuanGuTongDao", "Steel Forge - Beast Plains"},
	{"SQ_JingJiHuiTu", "Steel Forge - Thorny Filth"},
	{"KD_AiRenDiErCeng", "Steel Forge - Weeping Mines"},
	{"SD_DuiLongJuQiang", "Steel Forge - Cloud Walls"},
	{"DD_YinYanJieXiang", "Steel Forge - Alleys of the Lost"},
	{"YJ_TaiYangWangTing", "Steel Forge - City of Eternal Fire"},
	{"DD_JueWangZhiQiang", "Steel Forge - Wall of the Pure"},
	{"YJ_RiXiShenMiao", "Steel Forge - Sun Temple"},
	{"YJ_YingLingShenDian", "Steel Forge - Corona Shrine"},
	{"SQ_ZheFengBiZhang", "Steel Forge - Windbreath Cliff"},
	{"ChiGuiWuShi", "Steel Forge - Imaginary Monument"},

	// Thunder Wastes
	{"DD_TanXiZhiQiang", "Thunder Wastes - Wall of Sorrows"},
	{"DD_XinTuJieXiang", "Thunder Wastes - Alleys of Pilgrims"},
	{"SQ_EWuHuangCun", "Thunder Wastes - Desolate Village"},
	{"YJ_ShuXiDaTing", "Thunder Wastes - Hall in the Mirror"},
	{"SQ_NvShenQunBai", "Thunder Wastes - Defiled Oasis"},
	{"SQ_XiongShiZhiXin", "Thunder Wastes - King's Hub"},
	{"KD_CangBaoDongKu", "Thunder Wastes - Thirsty Mines"},
	{"SD_ShengHuoLing", "Thunder Wastes - Rainmist Jungle"},
	{"JH_JiaoTangDaTing", "Thunder Wastes - Prayer Sanctuary"},
	{"DD_DiDuTingYuan000", "Thunder Wastes - Sacred Courtyard"},
	{"YJ_LiuJinJieQu", "Thunder Wastes - Gallery of Moon"},
	{"LeiYingJiDian", "Thunder Wastes - Summit of Thunder"},

	// Rift of Dimensions
	{"LieXiKongJing", "Rift of Dimensions"},

	// Secret Realms
	{"HD_YingGuangDianTang", "Secret Realm - Invaluable Time"},
	{"HD_EMengZhiXia", "Secret Realm - Sea of Rites"},
	{"BZ_NaGouZhiXi", "Secret Realm - Unholy Pedestal"},
	{"BZ_JiangShengChao", "Secret Realm - Abyssal Vault"},

	// League mechanic sub-zones
	{"SuMingTaLuo", "Fateful Contest"},
	{"WuDuYiZhi", "Mistville"},

	// Void Sea
	{"XuHaiZhongGang", "Void Sea Terminal"},

	// Voidlands
	{"DD_QunLangJieXiang", "Voidlands - Grim Alleys"},
	{"YL_MaNeiLaYuLin", "Voidlands - Filthy Forest"},
	{"YL_MiWuYuLin", "Voidlands - Dreamless Thicket"},
	{"JH_ShenHeJuSuo", "Voidlands - Luminescent Throne"},
	{"JH_YiWangMiDian", "Voidlands - Shrine of Agony"},
	{"YL_KuangReYuLin", "Voidlands - Shimmering Swamp"},
	{"YL_XiDiChongGu", "Voidlands - Jungle of the Brood"},
	{"YJ_YongZhouHuiLang", "Voidlands - Gallery of Stars"},
	{"JH_YinNiShengTang", "Voidlands - Yesterday Chamber"},
	{"DiaoLingWangYu", "Voidlands - Dreamless Abyss"},
}

// ambiguousZones resolves zones whose path is shared across regions.
// LevelId is XXYY: XX is the Timemark tier, YY identifies the region variant.
var ambiguousZones = map[string]map[int64]string{
	"YL_BeiFengLinDi": {
		6:  "Glacial Abyss - Grimwind Woods",
		54: "Voidlands - Grimwind Woods",
	},
	"KD_YuanSuKuangDong000": {
		12: "Blistering Lava Sea - Elemental Mine",
		55: "Voidlands - Elemental Mine",
	},
	"GeBuLinCunLuo": {
		2: "Glacial Abyss - Demiman Village",
	},
}

// levelIDZones are exact LevelId mappings for zones outside the XXYY pattern.
var levelIDZones = map[int64]string{
	// Timemark bosses
	3016: "Blistering Lava Sea - Hellfire Chasm",
	3006: "Glacial Abyss - Throne of Winter",
	3036: "Thunder Wastes - Summit of Thunder",
	3026: "Steel Forge - Imaginary Monument",
	3046: "Voidlands - Dreamless Abyss",
	// Secret Realm
	234020: "Secret Realm - Sea of Rites",
	// Trial of Divinity
	212023: "Trial of Divinity",
	// Path of the Brave rooms, one per difficulty
	999901: "Path of the Brave",
	999902: "Path of the Brave",
	999903: "Path of the Brave",
	999904: "Path of the Brave",
	999905: "Path of the Brave",
}

// hubPatterns identify non-mapping zones. Zone codes like /01SD/ are shared
// by hideouts and maps, so hideouts are matched by their Chinese names.
var hubPatterns = []string{
	"hideout",
	"town",
	"hub",
	"lobby",
	"social",
	"yujinzhixibinansuo", // Ember's Rest
	"shengtingzhuangyuan", // Sacred Court Manor
	"zhucheng",            // main city
	"/ui/",
	"loginscene",
}

// Sub-zone detection: excursions opened from inside a map that must be
// spliced back into the outer run when the player returns.
var (
	subZoneLevelTypes = map[int]string{
		11: "Nightmare",
		19: "Fateful Contest",
	}
	subZonePathPatterns = []string{
		"SuMingTaLuo", // arcana
		"WuDuYiZhi",   // mistville
	}
	subZoneLevelIDs = map[int64]bool{
		212023: true, // Trial of Divinity
	}
)

var trailingDigits = regexp.MustCompile(`\d+$`)

// ZoneDisplayName resolves an internal level path such as
// /Game/Art/Maps/01SD/XZ_YuJinZhiXiBiNanSuo200/... to an English name.
// levelID disambiguates zones sharing a path across regions; pass 0 when
// unknown.
func ZoneDisplayName(zonePath string, levelID int64) string {
	if levelID != 0 {
		if name, ok := levelIDZones[levelID]; ok {
			return name
		}
		for pattern, bySuffix := range ambiguousZones {
			if strings.Contains(zonePath, pattern) {
				if name, ok := bySuffix[levelID%100]; ok {
					return name
				}
			}
		}
	}
	for _, e := range zoneNames {
		if strings.Contains(zonePath, e.pattern) {
			return e.name
		}
	}
	return fallbackZoneName(zonePath)
}

// fallbackZoneName extracts the deepest meaningful path segment and strips
// the trailing variant digits: .../XZ_YuJinZhiXiBiNanSuo200/... -> XZ_YuJinZhiXiBiNanSuo.
func fallbackZoneName(zonePath string) string {
	parts := strings.Split(zonePath, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		part := parts[i]
		if part == "" || strings.HasPrefix(part, "Game") || strings.HasPrefix(part, "Art") {
			continue
		}
		if cleaned := trailingDigits.ReplaceAllString(part, ""); cleaned != "" {
			return cleaned
		}
		return part
	}
	return zonePath
}

// IsHubPath reports whether a level path is a hub/town/hideout zone.
func IsHubPath(zonePath string) bool {
	lower := strings.ToLower(zonePath)
	for _, p := range hubPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// IsSubZone reports whether a level transition enters a recognized sub-zone
// excursion, and its display label when known.
func IsSubZone(levelType int, levelID int64, zonePath string) (bool, string) {
	if label, ok := subZoneLevelTypes[levelType]; ok {
		return true, label
	}
	if subZoneLevelIDs[levelID] {
		return true, ZoneDisplayName(zonePath, levelID)
	}
	for _, p := range subZonePathPatterns {
		if strings.Contains(zonePath, p) {
			return true, ZoneDisplayName(zonePath, levelID)
		}
	}
	return false, ""
}

// ZoneSignature derives the stable signature used to compare runs: the
// cleaned deepest path segment. Display names may change with the catalog;
// signatures must not.
func ZoneSignature(zonePath string) string {
	return fallbackZoneName(zonePath)
}
