package gamedata

import "testing"

func TestZoneDisplayName_LevelIDTable(t *testing.T) {
	got := ZoneDisplayName("/Game/Art/Maps/03KD/YanYuZhiGu100/YanYuZhiGu_Main", 3016)
	if got != "Blistering Lava Sea - Hellfire Chasm" {
		t.Errorf("boss zone = %q", got)
	}
	if got := ZoneDisplayName("/Game/Art/Maps/99XX/Whatever100", 999903); got != "Path of the Brave" {
		t.Errorf("path of the brave = %q", got)
	}
}

func TestZoneDisplayName_AmbiguousSuffix(t *testing.T) {
	path := "/Game/Art/Maps/02YL/YL_BeiFengLinDi300/Main"
	if got := ZoneDisplayName(path, 1306); got != "Glacial Abyss - Grimwind Woods" {
		t.Errorf("suffix 06 = %q", got)
	}
	if got := ZoneDisplayName(path, 5354); got != "Voidlands - Grimwind Woods" {
		t.Errorf("suffix 54 = %q", got)
	}
	// Unknown suffix falls through to the substring table.
	if got := ZoneDisplayName(path, 9999); got != "Grimwind Woods" {
		t.Errorf("fallthrough = %q", got)
	}
}

func TestZoneDisplayName_LongestPatternWins(t *testing.T) {
	got := ZoneDisplayName("/Game/Art/Maps/05DD/DD_ShengTingZhuangYuan000/Main", 0)
	if got != "Voidlands - Mundane Palace" {
		t.Errorf("suffixed variant = %q", got)
	}
	got = ZoneDisplayName("/Game/Art/Maps/01DD/DD_ShengTingZhuangYuan/Main", 0)
	if got != "Hideout - Sacred Court Manor" {
		t.Errorf("generic variant = %q", got)
	}
}

func TestZoneDisplayName_Fallback(t *testing.T) {
	got := ZoneDisplayName("/Game/Art/Maps/07QQ/QQ_WeiZhiZhiDi420/Main", 0)
	if got != "Main" {
		// Deepest segment first; "Main" has no trailing digits to strip.
		t.Errorf("fallback = %q", got)
	}
	got = ZoneDisplayName("/Game/Art/Maps/07QQ/QQ_WeiZhiZhiDi420", 0)
	if got != "QQ_WeiZhiZhiDi" {
		t.Errorf("fallback strip digits = %q", got)
	}
}

func TestIsHubPath(t *testing.T) {
	hubs := []string{
		"/Game/Art/Maps/01XZ/XZ_YuJinZhiXiBiNanSuo200/Main",
		"/Game/UI/LoginScene/Login",
		"/Game/Art/Maps/Town/MainTown",
	}
	for _, p := range hubs {
		if !IsHubPath(p) {
			t.Errorf("IsHubPath(%q) = false", p)
		}
	}
	if IsHubPath("/Game/Art/Maps/02YL/YL_BeiFengLinDi300/Main") {
		t.Error("map path flagged as hub")
	}
}

func TestIsSubZone(t *testing.T) {
	if ok, label := IsSubZone(11, 0, "/Game/Art/Maps/03JH/JH_MengZhongShengDi"); !ok || label != "Nightmare" {
		t.Errorf("level type 11 = %v %q", ok, label)
	}
	if ok, label := IsSubZone(19, 0, "/Game/Art/Maps/04SQ/SQ_NvShenQunBai"); !ok || label != "Fateful Contest" {
		t.Errorf("level type 19 = %v %q", ok, label)
	}
	if ok, label := IsSubZone(3, 0, "/Game/Art/Maps/09TL/SuMingTaLuo100/Main"); !ok || label != "Fateful Contest" {
		t.Errorf("taluo path = %v %q", ok, label)
	}
	if ok, label := IsSubZone(3, 212023, "/Game/Art/Maps/08SY/ShenYuShiLian100"); !ok || label != "Trial of Divinity" {
		t.Errorf("trial level id = %v %q", ok, label)
	}
	if ok, _ := IsSubZone(3, 1306, "/Game/Art/Maps/02YL/YL_BeiFengLinDi300/Main"); ok {
		t.Error("ordinary map flagged as sub-zone")
	}
}

func TestZoneSignature(t *testing.T) {
	a := ZoneSignature("/Game/Art/Maps/02YL/YL_BeiFengLinDi300")
	b := ZoneSignature("/Game/Art/Maps/02YL/YL_BeiFengLinDi560")
	if a != b || a != "YL_BeiFengLinDi" {
		t.Errorf("signatures %q vs %q", a, b)
	}
}
