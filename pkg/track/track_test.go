package track

import (
	"reflect"
	"testing"
)

type upperT2S struct{}

func (upperT2S) TradToSim(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r == '傑' {
			out[i] = '杰'
		}
		if r == '倫' {
			out[i] = '伦'
		}
	}
	return string(out)
}

func TestIdentity(t *testing.T) {
	tests := []struct {
		name    string
		artists []string
		title   string
		want    string
	}{
		{"single", []string{"周杰倫"}, "晴天", "周杰伦 - 晴天"},
		{"list", []string{"A", "B"}, "Song", "A、B - Song"},
		{"embedded separators", []string{"A / B", "C"}, " Song ", "A、B、C - Song"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Identity(upperT2S{}, tt.artists, tt.title); got != tt.want {
				t.Errorf("Identity() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeArtists(t *testing.T) {
	tests := map[string]string{
		"A;B":       "A、B",
		"A / B & C": "A、B、C",
		"A，B, C":    "A、B、C",
		"A、、B":      "A、B",
		"Solo":      "Solo",
	}
	for in, want := range tests {
		if got := NormalizeArtists(in); got != want {
			t.Errorf("NormalizeArtists(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSplitKeyword(t *testing.T) {
	artist, title, ok := SplitKeyword("Taylor Swift - Love Story")
	if !ok || artist != "taylor swift" || title != "love story" {
		t.Errorf("SplitKeyword() = %q, %q, %v", artist, title, ok)
	}
	if _, _, ok := SplitKeyword("no separator"); ok {
		t.Error("SplitKeyword() accepted keyword without separator")
	}
}

func TestAlbumsMatch(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"十一月的肖邦", "《十一月的肖邦》 (Special Edition)", true},
		{"11月的肖邦", "十一月的肖邦", true},
		{"ＡＢＣ", "abc", true},
		{"Fearless (Taylor's Version)", "Fearless", false},
		{"范特西 (Live)", "范特西", false},
		{"范特西 [Remix]", "范特西", false},
		{"范特西（Live）", "范特西 (Live)", true},
		{"第二张", "第2张", true},
		{"Red", "Blue", false},
		{"(Live)", "(Live)", true},
	}
	for _, tt := range tests {
		if got := AlbumsMatch(tt.a, tt.b); got != tt.want {
			t.Errorf("AlbumsMatch(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
	if NormalizeAlbum("") != "" {
		t.Error("NormalizeAlbum(\"\") should be empty")
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		identity, album string
		tier            Tier
		ext             string
		want            string
	}{
		{"A - B", "Album", TierFlac, ".flac", "A - B Album.flac"},
		{"A - B", "Album", TierMaster, ".flac", "A - B Album [M].flac"},
		{"A - B", "", Tier320, "mp3", "A - B.mp3"},
		{"A - B", `What?: "Live"`, Tier128, ".MP3", "A - B What Live.mp3"},
	}
	for _, tt := range tests {
		if got := FileName(tt.identity, tt.album, tt.tier, tt.ext); got != tt.want {
			t.Errorf("FileName(%q, %q, %s) = %q, want %q", tt.identity, tt.album, tt.tier, got, tt.want)
		}
	}
}

func TestTierLadder(t *testing.T) {
	if !(Tier128.Rank() < Tier320.Rank() && Tier320.Rank() < TierFlac.Rank() && TierFlac.Rank() < TierMaster.Rank()) {
		t.Error("ladder order broken")
	}
	if Tier("hires").OnLadder() {
		t.Error("hires should be a sibling tier")
	}
	want := []Tier{TierFlac, Tier320, Tier128}
	if got := DownwardFallback(TierFlac); !reflect.DeepEqual(got, want) {
		t.Errorf("DownwardFallback(flac) = %v, want %v", got, want)
	}
	if got := DownwardFallback("sky"); got != nil {
		t.Errorf("DownwardFallback(sky) = %v, want nil", got)
	}
	s := NewTierSet(TierMaster, "sky", Tier128)
	if got := s.String(); got != "[128 master sky]" {
		t.Errorf("TierSet.String() = %q", got)
	}
	if _, ok := ParseTier("FLAC"); !ok {
		t.Error("ParseTier(FLAC) failed")
	}
	if _, ok := ParseTier("hires"); ok {
		t.Error("ParseTier(hires) should not be a ladder tier")
	}
}

func TestCandidateMatches(t *testing.T) {
	c := Candidate{Name: "Love Story", Artist: "Taylor Swift、Someone"}
	if !c.Matches("taylor swift", "love story") {
		t.Error("Matches() = false, want true")
	}
	if c.Matches("taylor swift", "love") {
		t.Error("Matches() accepted partial title")
	}
}
