package reconcile

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yleoer/musicapi/pkg/database"
	"github.com/yleoer/musicapi/pkg/pipeline"
	"github.com/yleoer/musicapi/pkg/resolver"
	"github.com/yleoer/musicapi/pkg/track"
)

const identity = "周杰伦 - 晴天"

// fakeResolver 按请求的档位返回预设结果
type fakeResolver struct {
	mu      sync.Mutex
	serve   map[track.Tier]track.Tier // 请求档位 -> 实际档位
	fail    map[track.Tier]error
	calls   []track.Tier
	entered chan struct{}
	release chan struct{}
}

func newFakeResolver(serve map[track.Tier]track.Tier) *fakeResolver {
	return &fakeResolver{serve: serve, fail: map[track.Tier]error{}}
}

func (r *fakeResolver) Platform() string { return "fake" }

func (r *fakeResolver) ResolveMetadata(ctx context.Context, ref track.Ref) (*track.Metadata, error) {
	return nil, errors.New("not used")
}

func (r *fakeResolver) Search(ctx context.Context, keyword, album string, limit int) ([]track.Candidate, error) {
	return nil, errors.New("not used")
}

func (r *fakeResolver) ResolveVariant(ctx context.Context, ref track.Ref, tier track.Tier) (*track.Variant, error) {
	r.mu.Lock()
	r.calls = append(r.calls, tier)
	r.mu.Unlock()
	if r.entered != nil {
		r.entered <- struct{}{}
		<-r.release
	}
	if err := r.fail[tier]; err != nil {
		return nil, err
	}
	actual, ok := r.serve[tier]
	if !ok {
		return nil, resolver.NoVariant("fake", tier)
	}
	ext := ".mp3"
	if !actual.IsLossy() {
		ext = ".flac"
	}
	return &track.Variant{Requested: tier, Actual: actual, URL: "http://cdn.example/" + string(actual), Ext: ext}, nil
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fileFetcher struct {
	mu    sync.Mutex
	count int
}

func (f *fileFetcher) Download(ctx context.Context, rawURL, dest string) (int64, error) {
	f.mu.Lock()
	f.count++
	f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, err
	}
	return 4, os.WriteFile(dest, []byte("data"), 0644)
}

type brokenStore struct {
	database.LibraryStore
}

func (brokenStore) ExistingTiers(ctx context.Context, identity, album string) (track.TierSet, error) {
	return nil, errors.New("disk I/O error")
}

type harness struct {
	engine  *Engine
	store   database.LibraryStore
	fetcher *fileFetcher
	dirs    pipeline.Directories
}

func newHarness(t *testing.T, policy Policy) *harness {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	root := t.TempDir()
	store, err := database.NewSQLiteStore(filepath.Join(root, "music.db"), logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	dirs := pipeline.Directories{Primary: filepath.Join(root, "music"), Secondary: filepath.Join(root, "music_flac")}
	fetcher := &fileFetcher{}
	pipe := pipeline.New(dirs, fetcher, nil, store, logger)
	return &harness{
		engine:  NewEngine(store, pipe, policy, logger),
		store:   store,
		fetcher: fetcher,
		dirs:    dirs,
	}
}

func (h *harness) seed(t *testing.T, tiers ...track.Tier) {
	t.Helper()
	for _, tier := range tiers {
		_, err := h.store.Record(context.Background(), database.Entry{
			Identity: identity,
			Album:    "叶惠美",
			Tier:     tier,
			FilePath: filepath.Join(h.dirs.Primary, "seed-"+string(tier)),
		})
		if err != nil {
			t.Fatalf("seed %s: %v", tier, err)
		}
	}
}

func (h *harness) tiers(t *testing.T) track.TierSet {
	t.Helper()
	tiers, err := h.store.ExistingTiers(context.Background(), identity, "叶惠美")
	if err != nil {
		t.Fatal(err)
	}
	return tiers
}

func request() Request {
	return Request{
		Ref:      track.Ref{Platform: "fake", ID: "186016"},
		Identity: identity,
		Metadata: &track.Metadata{Name: "晴天", Album: "叶惠美"},
	}
}

func TestMasterPresentIsTerminal(t *testing.T) {
	h := newHarness(t, Policy{FlacWithMaster: true})
	h.seed(t, track.TierMaster, track.Tier128)
	res := newFakeResolver(map[track.Tier]track.Tier{track.TierMaster: track.TierMaster, track.TierFlac: track.TierFlac})

	for i := 0; i < 2; i++ {
		report := h.engine.Reconcile(context.Background(), res, request())
		if report.Branch != BranchMaxed || report.ResolverCalls() != 0 || len(report.Downloads) != 0 {
			t.Errorf("run %d: %s", i, report)
		}
	}
	if res.callCount() != 0 || h.fetcher.count != 0 {
		t.Errorf("resolver calls = %d, downloads = %d, want 0 and 0", res.callCount(), h.fetcher.count)
	}
}

func TestColdStartMaster(t *testing.T) {
	serve := map[track.Tier]track.Tier{track.TierMaster: track.TierMaster, track.TierFlac: track.TierFlac}

	t.Run("policy off", func(t *testing.T) {
		h := newHarness(t, Policy{})
		res := newFakeResolver(serve)
		report := h.engine.Reconcile(context.Background(), res, request())

		if report.Branch != BranchColdStart || report.Err != nil {
			t.Fatalf("report = %s", report)
		}
		if got := report.Saved(); len(got) != 1 || got[0] != track.TierMaster {
			t.Errorf("saved = %v, want [master]", got)
		}
		if res.callCount() != 1 {
			t.Errorf("resolver calls = %v, want only master", res.calls)
		}
		if !strings.HasSuffix(report.Downloads[0].Path, track.MasterSuffix+".flac") {
			t.Errorf("master path = %s", report.Downloads[0].Path)
		}
	})

	t.Run("policy on", func(t *testing.T) {
		h := newHarness(t, Policy{FlacWithMaster: true})
		res := newFakeResolver(serve)
		report := h.engine.Reconcile(context.Background(), res, request())

		if res.callCount() != 2 || res.calls[1] != track.TierFlac {
			t.Fatalf("resolver calls = %v, want master then one flac", res.calls)
		}
		if len(report.Downloads) != 2 {
			t.Fatalf("downloads = %d, want 2", len(report.Downloads))
		}
		flac := report.Downloads[1]
		if flac.Tier != track.TierFlac || filepath.Dir(flac.Path) != h.dirs.Secondary {
			t.Errorf("flac outcome = %+v, want under %s", flac, h.dirs.Secondary)
		}
		if !h.tiers(t).ContainsAll(track.NewTierSet(track.TierMaster, track.TierFlac)) {
			t.Errorf("tiers = %s", h.tiers(t))
		}
	})
}

func TestColdStartRightsRestricted(t *testing.T) {
	h := newHarness(t, Policy{FlacWithMaster: true})
	res := newFakeResolver(nil)
	res.fail[track.TierMaster] = resolver.Fail("fake", "variant", "copyright", nil)

	report := h.engine.Reconcile(context.Background(), res, request())
	if !errors.Is(report.Err, ErrNoPlayableVariant) {
		t.Errorf("error = %v, want ErrNoPlayableVariant", report.Err)
	}
	if !report.Failed() || len(report.Downloads) != 0 || h.fetcher.count != 0 {
		t.Errorf("report = %s, downloads = %d", report, h.fetcher.count)
	}
	if res.callCount() != 1 {
		t.Errorf("resolver calls = %v, want a single master request", res.calls)
	}
}

func TestColdStartLowTierOnly(t *testing.T) {
	h := newHarness(t, Policy{FlacWithMaster: true})
	res := newFakeResolver(map[track.Tier]track.Tier{track.TierMaster: track.Tier320})

	report := h.engine.Reconcile(context.Background(), res, request())
	if got := report.Saved(); len(got) != 1 || got[0] != track.Tier320 {
		t.Fatalf("saved = %v, want [320]", got)
	}
	if res.callCount() != 1 {
		t.Errorf("resolver calls = %v", res.calls)
	}
	if !h.tiers(t).Has(track.Tier320) || h.tiers(t).Has(track.TierMaster) {
		t.Errorf("tiers = %s, want 320 only", h.tiers(t))
	}
}

func TestColdStartLosslessSurfacedFirst(t *testing.T) {
	h := newHarness(t, Policy{})
	res := newFakeResolver(map[track.Tier]track.Tier{track.TierMaster: track.TierFlac, track.TierFlac: track.TierFlac})

	report := h.engine.Reconcile(context.Background(), res, request())
	if len(res.calls) != 2 || res.calls[0] != track.TierMaster || res.calls[1] != track.TierFlac {
		t.Fatalf("resolver calls = %v, want [master flac]", res.calls)
	}
	if got := report.Saved(); len(got) != 1 || got[0] != track.TierFlac {
		t.Errorf("saved = %v, want [flac]", got)
	}
	if filepath.Dir(report.Downloads[0].Path) != h.dirs.Primary {
		t.Errorf("flac without master should go to the primary directory: %s", report.Downloads[0].Path)
	}
}

func TestActualTierIsAuthoritative(t *testing.T) {
	h := newHarness(t, Policy{})
	h.seed(t, track.Tier128)
	// 无论请求什么都降级为 320
	res := newFakeResolver(map[track.Tier]track.Tier{track.TierMaster: track.Tier320, track.TierFlac: track.Tier320})

	report := h.engine.Reconcile(context.Background(), res, request())
	if len(report.Downloads) != 0 {
		t.Errorf("downgraded variants must not be saved on upgrade paths: %s", report)
	}

	h2 := newHarness(t, Policy{})
	report = h2.engine.Reconcile(context.Background(), res, request())
	if len(report.Downloads) != 1 {
		t.Fatalf("report = %s", report)
	}
	entries, err := h2.store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Tier != track.Tier320 || strings.Contains(entries[0].FilePath, track.MasterSuffix) {
		t.Errorf("entries = %+v, want one 320 entry", entries)
	}
}

func TestUpgradeFromFlac(t *testing.T) {
	h := newHarness(t, Policy{})
	h.seed(t, track.TierFlac)
	res := newFakeResolver(map[track.Tier]track.Tier{track.TierMaster: track.TierMaster, track.TierFlac: track.TierFlac})

	report := h.engine.Reconcile(context.Background(), res, request())
	if report.Branch != BranchFromFlac {
		t.Fatalf("branch = %s", report.Branch)
	}
	if len(res.calls) != 1 || res.calls[0] != track.TierMaster {
		t.Errorf("resolver calls = %v, want [master]", res.calls)
	}
	if got := report.Saved(); len(got) != 1 || got[0] != track.TierMaster {
		t.Errorf("saved = %v", got)
	}
}

func TestUpgradeFromFlacDoesNotFallBack(t *testing.T) {
	h := newHarness(t, Policy{})
	h.seed(t, track.TierFlac)
	res := newFakeResolver(map[track.Tier]track.Tier{track.TierMaster: track.TierFlac, track.TierFlac: track.TierFlac})

	report := h.engine.Reconcile(context.Background(), res, request())
	if res.callCount() != 1 || len(report.Downloads) != 0 {
		t.Errorf("calls = %v, downloads = %d, want one probe and no download", res.calls, len(report.Downloads))
	}
}

func TestDualUpgradeFromLossy(t *testing.T) {
	h := newHarness(t, Policy{})
	h.seed(t, track.Tier128)
	before := h.tiers(t)
	res := newFakeResolver(map[track.Tier]track.Tier{track.TierMaster: track.TierMaster, track.TierFlac: track.TierFlac})

	report := h.engine.Reconcile(context.Background(), res, request())
	if report.Branch != BranchFromLossy || len(report.Downloads) != 2 {
		t.Fatalf("report = %s", report)
	}
	got := track.NewTierSet(report.Saved()...)
	if !got.ContainsAll(track.NewTierSet(track.TierMaster, track.TierFlac)) {
		t.Errorf("saved = %s, want master and flac", got)
	}
	after := h.tiers(t)
	if !after.ContainsAll(before) {
		t.Errorf("tiers shrank: before %s after %s", before, after)
	}
	if !after.Has(track.TierMaster) || !after.Has(track.TierFlac) {
		t.Errorf("after = %s", after)
	}
}

func TestDualUpgradeProbesAreIndependent(t *testing.T) {
	h := newHarness(t, Policy{})
	h.seed(t, track.Tier320)
	res := newFakeResolver(map[track.Tier]track.Tier{track.TierFlac: track.TierFlac})
	res.fail[track.TierMaster] = errors.New("timeout")

	report := h.engine.Reconcile(context.Background(), res, request())
	if res.callCount() != 2 {
		t.Errorf("resolver calls = %v, want both tiers", res.calls)
	}
	if got := report.Saved(); len(got) != 1 || got[0] != track.TierFlac {
		t.Errorf("saved = %v, want [flac]", got)
	}
}

func TestUnrankedLocalCopies(t *testing.T) {
	h := newHarness(t, Policy{})
	h.seed(t, track.TierOther)
	res := newFakeResolver(map[track.Tier]track.Tier{track.TierMaster: track.TierMaster})

	report := h.engine.Reconcile(context.Background(), res, request())
	if report.Branch != BranchUnranked || res.callCount() != 0 {
		t.Errorf("report = %s", report)
	}
}

func TestIndexReadFailure(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	engine := NewEngine(brokenStore{}, nil, Policy{}, logger)
	res := newFakeResolver(map[track.Tier]track.Tier{track.TierMaster: track.TierMaster})

	report := engine.Reconcile(context.Background(), res, request())
	if report.Branch != BranchIndexFailed || report.Err == nil || res.callCount() != 0 {
		t.Errorf("report = %s", report)
	}
}

func TestConcurrentRunsCollapse(t *testing.T) {
	h := newHarness(t, Policy{})
	res := newFakeResolver(map[track.Tier]track.Tier{track.TierMaster: track.TierMaster})
	res.entered = make(chan struct{}, 8)
	res.release = make(chan struct{})

	const n = 4
	reports := make([]*Report, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i] = h.engine.Reconcile(context.Background(), res, request())
		}()
	}
	<-res.entered
	time.Sleep(50 * time.Millisecond)
	close(res.release)
	wg.Wait()

	// 晚到的调用要么合并进同一次对账，要么看到已入库的 master 直接结束
	if res.callCount() != 1 || h.fetcher.count != 1 {
		t.Errorf("resolver calls = %d, downloads = %d, want 1 and 1", res.callCount(), h.fetcher.count)
	}
	for i, r := range reports {
		if r == nil || r.Err != nil {
			t.Errorf("report %d = %v", i, r)
		}
	}
}
