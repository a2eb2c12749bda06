package database

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/yleoer/musicapi/pkg/track"
)

func newTestStore(t *testing.T) LibraryStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "music.db"), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustRecord(t *testing.T, s LibraryStore, e Entry) {
	t.Helper()
	if _, err := s.Record(context.Background(), e); err != nil {
		t.Fatalf("Record(%+v) error = %v", e, err)
	}
}

func TestRecordDuplicatePathIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := Entry{Identity: "周杰伦 - 晴天", Album: "叶惠美", Tier: track.TierFlac, FilePath: "/music/a.flac", DurationMs: 269000}

	inserted, err := s.Record(ctx, e)
	if err != nil || !inserted {
		t.Fatalf("first Record() = %v, %v; want true, nil", inserted, err)
	}
	inserted, err = s.Record(ctx, e)
	if err != nil {
		t.Fatalf("duplicate Record() error = %v", err)
	}
	if inserted {
		t.Error("duplicate Record() reported an insert")
	}
	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("List() returned %d rows, want 1", len(all))
	}
}

func TestExistingTiersAlbumFuzzyMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := "周杰伦 - 夜曲"
	mustRecord(t, s, Entry{Identity: id, Album: "十一月的肖邦", Tier: track.Tier320, FilePath: "/m/1.mp3"})
	mustRecord(t, s, Entry{Identity: id, Album: "《十一月的肖邦》 (Special Edition)", Tier: track.TierFlac, FilePath: "/m/2.flac"})
	mustRecord(t, s, Entry{Identity: id, Album: "Live 2004", Tier: track.TierMaster, FilePath: "/m/3.flac"})

	tests := []struct {
		name  string
		album string
		want  []track.Tier
	}{
		{"fuzzy album", "11月的肖邦", []track.Tier{track.Tier320, track.TierFlac}},
		{"other album", "live 2004", []track.Tier{track.TierMaster}},
		{"no album means all", "", []track.Tier{track.Tier320, track.TierFlac, track.TierMaster}},
		{"unknown album", "范特西", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ExistingTiers(ctx, id, tt.album)
			if err != nil {
				t.Fatalf("ExistingTiers() error = %v", err)
			}
			if !got.ContainsAll(track.NewTierSet(tt.want...)) || len(got) != len(tt.want) {
				t.Errorf("ExistingTiers(%q) = %v, want %v", tt.album, got, tt.want)
			}
		})
	}
}

func TestSearchDownwardFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := "陈奕迅 - 富士山下"
	mustRecord(t, s, Entry{Identity: id, Album: "What's Going On...?", Tier: track.Tier320, FilePath: "/m/a.mp3"})
	mustRecord(t, s, Entry{Identity: id, Album: "What's Going On...?", Tier: track.Tier128, FilePath: "/m/b.mp3"})

	got, err := s.Search(ctx, id, "", track.TierMaster)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].Tier != track.Tier320 {
		t.Errorf("Search(master) = %+v, want the single 320 row", got)
	}

	got, err = s.Search(ctx, id, "Going", track.Tier128)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].Tier != track.Tier128 {
		t.Errorf("Search(128) = %+v, want the 128 row", got)
	}

	got, err = s.Search(ctx, id, "", "")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Search without tier returned %d rows, want 2", len(got))
	}

	got, err = s.Search(ctx, id, "不存在", track.TierFlac)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Search with unmatched album = %+v, want none", got)
	}
}

func TestPathForIDAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustRecord(t, s, Entry{Identity: "a - b", Tier: track.Tier128, FilePath: "/m/ab.mp3"})

	all, _ := s.List(ctx)
	id := all[0].ID
	path, found, err := s.PathForID(ctx, id)
	if err != nil || !found || path != "/m/ab.mp3" {
		t.Fatalf("PathForID() = %q, %v, %v", path, found, err)
	}
	if _, found, _ := s.PathForID(ctx, id+100); found {
		t.Error("PathForID() found a missing id")
	}
	if ok, _ := s.HasPath(ctx, "/m/ab.mp3"); !ok {
		t.Error("HasPath() = false, want true")
	}

	deleted, err := s.Delete(ctx, []int64{id, id + 100})
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(deleted) != 1 || deleted[0].FilePath != "/m/ab.mp3" {
		t.Errorf("Delete() = %+v", deleted)
	}
	if ok, _ := s.HasPath(ctx, "/m/ab.mp3"); ok {
		t.Error("HasPath() after delete = true")
	}
}

func TestPlaylistMappings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := PlaylistMapping{Platform: "netease", OnlinePlaylistID: "123", LocalPlaylistID: "nd-1", Name: "Daily"}
	if err := s.UpsertPlaylistMapping(ctx, m); err != nil {
		t.Fatalf("UpsertPlaylistMapping() error = %v", err)
	}
	m.Name = "Daily Mix"
	if err := s.UpsertPlaylistMapping(ctx, m); err != nil {
		t.Fatalf("UpsertPlaylistMapping() update error = %v", err)
	}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := s.TouchPlaylistSync(ctx, "netease", "123", at); err != nil {
		t.Fatalf("TouchPlaylistSync() error = %v", err)
	}
	if err := s.TouchPlaylistSync(ctx, "qq", "999", at); err == nil {
		t.Error("TouchPlaylistSync() on missing mapping should fail")
	}

	got, err := s.ListPlaylistMappings(ctx)
	if err != nil {
		t.Fatalf("ListPlaylistMappings() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d mappings, want 1", len(got))
	}
	if got[0].Name != "Daily Mix" || got[0].LocalPlaylistID != "nd-1" {
		t.Errorf("mapping = %+v", got[0])
	}
	if !got[0].LastSyncTime.Equal(at) {
		t.Errorf("LastSyncTime = %v, want %v", got[0].LastSyncTime, at)
	}
}
