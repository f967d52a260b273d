package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"chime/internal/schedule"
	logx "chime/pkg/logx"
)

type fakeRemote struct {
	mu      sync.Mutex
	list    []schedule.Schedule
	pushed  []schedule.Schedule
	failAll bool
}

func (f *fakeRemote) FetchAll(ctx context.Context) ([]schedule.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("backend down")
	}
	return append([]schedule.Schedule(nil), f.list...), nil
}

func (f *fakeRemote) Push(ctx context.Context, s schedule.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("backend down")
	}
	f.pushed = append(f.pushed, s)
	return nil
}

func (f *fakeRemote) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

func (f *fakeRemote) lastPushed() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pushed) == 0 {
		return ""
	}
	return f.pushed[len(f.pushed)-1].ID
}

func testSchedule(id string) schedule.Schedule {
	return schedule.Schedule{
		ID:        id,
		ClipID:    "clip-1",
		ClipName:  "Morning bell",
		ClipURL:   "https://cdn.example/bell.mp3",
		Time:      "07:30",
		Days:      []int{1, 3, 5},
		IsActive:  true,
		Source:    schedule.SourceWeb,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newFileCache(t *testing.T) Cache {
	t.Helper()
	c, err := OpenCache(CacheConfig{Driver: "file", Path: filepath.Join(t.TempDir(), "schedules.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	return c
}

func TestFileCacheRoundTrip(t *testing.T) {
	t.Parallel()
	c := newFileCache(t)

	in := []schedule.Schedule{testSchedule("a"), testSchedule("b")}
	in[1].LastFiredOn = "2024-01-01"
	if err := c.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := c.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}
}

func TestFileCacheMissingFileIsEmpty(t *testing.T) {
	t.Parallel()
	c := newFileCache(t)
	out, err := c.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty collection, got %d", len(out))
	}
}

func TestLoadRemoteWins(t *testing.T) {
	t.Parallel()
	cache := newFileCache(t)
	if err := cache.Save([]schedule.Schedule{testSchedule("stale")}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	remote := &fakeRemote{list: []schedule.Schedule{testSchedule("r1"), testSchedule("r2")}}

	d := New(cache, remote, logx.Nop())
	if err := d.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	all := d.GetAll()
	if len(all) != 2 || all[0].ID != "r1" || all[1].ID != "r2" {
		t.Fatalf("remote copy must win, got %+v", all)
	}
	if d.NeedsReconcile() {
		t.Fatalf("remote load must not request reconcile")
	}

	// The cache is refreshed from the authoritative copy.
	cached, err := cache.Load()
	if err != nil {
		t.Fatalf("cache Load: %v", err)
	}
	if len(cached) != 2 || cached[0].ID != "r1" {
		t.Fatalf("cache not refreshed, got %+v", cached)
	}
}

func TestLoadFallsBackToCache(t *testing.T) {
	t.Parallel()
	cache := newFileCache(t)
	if err := cache.Save([]schedule.Schedule{testSchedule("local")}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	remote := &fakeRemote{failAll: true}

	d := New(cache, remote, logx.Nop())
	if err := d.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	all := d.GetAll()
	if len(all) != 1 || all[0].ID != "local" {
		t.Fatalf("expected cached copy, got %+v", all)
	}
	if !d.NeedsReconcile() {
		t.Fatalf("cache fallback must request reconcile")
	}
}

func TestReconcileFromCachePushesEverything(t *testing.T) {
	t.Parallel()
	cache := newFileCache(t)
	seed := []schedule.Schedule{testSchedule("a"), testSchedule("b"), testSchedule("c")}
	if err := cache.Save(seed); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	remote := &fakeRemote{failAll: true}
	d := New(cache, remote, logx.Nop())
	if err := d.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	remote.mu.Lock()
	remote.failAll = false
	remote.mu.Unlock()

	d.ReconcileFromCache(context.Background())
	if got := remote.pushCount(); got != len(seed) {
		t.Fatalf("pushed %d records, want %d", got, len(seed))
	}
	if d.NeedsReconcile() {
		t.Fatalf("reconcile must clear the pending flag")
	}
}

func TestRestartRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "schedules.json")
	openCache := func() Cache {
		c, err := OpenCache(CacheConfig{Driver: "file", Path: cachePath}, logx.Nop())
		if err != nil {
			t.Fatalf("OpenCache: %v", err)
		}
		return c
	}
	remote := &fakeRemote{}
	ctx := context.Background()

	d1 := New(openCache(), remote, logx.Nop())
	want := []schedule.Schedule{testSchedule("a"), testSchedule("b")}
	want[1].Time = "18:45"
	want[1].LastFiredOn = "2024-01-01"
	for _, s := range want {
		if err := d1.Append(ctx, s); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	// Remote pushes are detached; wait for the backend to have seen the
	// newest snapshot (its last record is "b") before simulating the restart.
	deadline := time.Now().Add(2 * time.Second)
	for remote.lastPushed() != "b" {
		if time.Now().After(deadline) {
			t.Fatalf("remote never saw the newest snapshot, last push %q", remote.lastPushed())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := d1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Restart: the remote serves back what it was pushed, upserted by id
	// the way the backend stores records.
	remote.mu.Lock()
	byID := make(map[string]schedule.Schedule)
	for _, p := range remote.pushed {
		byID[p.ID] = p
	}
	remote.list = []schedule.Schedule{byID["a"], byID["b"]}
	remote.mu.Unlock()

	d2 := New(openCache(), remote, logx.Nop())
	if err := d2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := d2.GetAll(); !reflect.DeepEqual(want, got) {
		t.Fatalf("restart round trip mismatch:\nwant=%+v\n got=%+v", want, got)
	}
}

func TestRemotePushNewestSnapshotWins(t *testing.T) {
	t.Parallel()
	remote := &fakeRemote{}
	d := New(nil, remote, logx.Nop())
	ctx := context.Background()

	// Two rapid mutations: the backend must end on the second snapshot,
	// never on the older one, regardless of goroutine scheduling.
	if err := d.Append(ctx, testSchedule("a")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := d.Append(ctx, testSchedule("b")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for remote.lastPushed() != "b" {
		if time.Now().After(deadline) {
			t.Fatalf("backend never converged on the newest snapshot, last push %q", remote.lastPushed())
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Let any straggler push land; the newest snapshot must stay last.
	time.Sleep(50 * time.Millisecond)
	if got := remote.lastPushed(); got != "b" {
		t.Fatalf("stale snapshot delivered after the newest one, last push %q", got)
	}
}

func TestAppendRejectsDuplicateID(t *testing.T) {
	t.Parallel()
	d := New(newFileCache(t), nil, logx.Nop())
	ctx := context.Background()
	if err := d.Append(ctx, testSchedule("a")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := d.Append(ctx, testSchedule("a")); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestMutateValidatesAndKeepsID(t *testing.T) {
	t.Parallel()
	d := New(newFileCache(t), nil, logx.Nop())
	ctx := context.Background()
	if err := d.Append(ctx, testSchedule("a")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Stripping every weekday from an active schedule must be rejected
	// and leave the stored record untouched.
	_, err := d.Mutate(ctx, "a", func(s *schedule.Schedule) error {
		s.Days = nil
		return nil
	})
	if !errors.Is(err, schedule.ErrNoDays) {
		t.Fatalf("expected ErrNoDays, got %v", err)
	}
	got, ok := d.Get("a")
	if !ok || len(got.Days) != 3 {
		t.Fatalf("failed mutation must not commit, got %+v", got)
	}

	// The ID is immutable even if the callback rewrites it.
	upd, err := d.Mutate(ctx, "a", func(s *schedule.Schedule) error {
		s.ID = "hijack"
		s.Time = "08:00"
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if upd.ID != "a" || upd.Time != "08:00" {
		t.Fatalf("unexpected result %+v", upd)
	}
}

func TestRemoveUnknownID(t *testing.T) {
	t.Parallel()
	d := New(newFileCache(t), nil, logx.Nop())
	if err := d.Remove(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetAllReturnsCopies(t *testing.T) {
	t.Parallel()
	d := New(nil, nil, logx.Nop())
	ctx := context.Background()
	if err := d.Append(ctx, testSchedule("a")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	all := d.GetAll()
	all[0].Days[0] = 6
	again, _ := d.Get("a")
	if again.Days[0] != 1 {
		t.Fatalf("caller mutation leaked into the store: %+v", again)
	}
}
