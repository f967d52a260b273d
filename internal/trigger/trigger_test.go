package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chime/internal/schedule"
	"chime/internal/store"
	logx "chime/pkg/logx"
)

type recordingPlayer struct {
	mu    sync.Mutex
	plays []string
	err   error         // returned from every Play when set
	gate  chan struct{} // when non-nil, Play blocks until the channel closes
}

func (p *recordingPlayer) Play(ctx context.Context, locator string, volume float64) error {
	p.mu.Lock()
	p.plays = append(p.plays, locator)
	gate := p.gate
	err := p.err
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p *recordingPlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.plays)
}

func newTestService(t *testing.T, schedules ...schedule.Schedule) (*Service, *store.DualStore, *recordingPlayer) {
	t.Helper()
	st := store.New(nil, nil, logx.Nop())
	ctx := context.Background()
	for _, s := range schedules {
		if err := st.Append(ctx, s); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}
	p := &recordingPlayer{}
	svc := New(Config{Enabled: true}, st, p, logx.Nop())
	return svc, st, p
}

func weekly(id string) schedule.Schedule {
	return schedule.Schedule{
		ID:       id,
		ClipID:   "clip-1",
		ClipName: "Morning bell",
		ClipURL:  "https://cdn.example/bell.mp3",
		Time:     "07:30",
		Days:     []int{1, 3, 5}, // Mon, Wed, Fri
		IsActive: true,
		Source:   schedule.SourceWeb,
	}
}

// 2024-01-01 was a Monday.
var monday0730 = time.Date(2024, 1, 1, 7, 30, 0, 0, time.Local)

func tickAt(svc *Service, at time.Time) {
	svc.now = func() time.Time { return at }
	svc.tick(context.Background())
}

func TestTickFiresOnMatch(t *testing.T) {
	svc, st, p := newTestService(t, weekly("a"))

	tickAt(svc, monday0730)
	if p.count() != 1 {
		t.Fatalf("expected one playback, got %d", p.count())
	}
	got, _ := st.Get("a")
	if got.LastFiredOn != "2024-01-01" {
		t.Fatalf("dedup marker not advanced: %q", got.LastFiredOn)
	}
}

func TestTickDoesNotRefireSameDay(t *testing.T) {
	svc, _, p := newTestService(t, weekly("a"))

	tickAt(svc, monday0730)
	tickAt(svc, monday0730)                     // same minute again
	tickAt(svc, monday0730.Add(30*time.Second)) // later in the same minute
	if p.count() != 1 {
		t.Fatalf("expected exactly one playback, got %d", p.count())
	}
}

func TestTickOffMinuteDoesNotFire(t *testing.T) {
	svc, _, p := newTestService(t, weekly("a"))

	tickAt(svc, monday0730.Add(time.Minute)) // 07:31
	if p.count() != 0 {
		t.Fatalf("07:31 must not fire, got %d plays", p.count())
	}
}

func TestTickWrongWeekdayDoesNotFire(t *testing.T) {
	svc, _, p := newTestService(t, weekly("a"))

	tickAt(svc, monday0730.AddDate(0, 0, 1)) // Tuesday 07:30
	if p.count() != 0 {
		t.Fatalf("Tuesday is not in the day set, got %d plays", p.count())
	}
}

func TestTickFiresAgainNextMatchingDay(t *testing.T) {
	svc, st, p := newTestService(t, weekly("a"))

	tickAt(svc, monday0730)
	tickAt(svc, monday0730.AddDate(0, 0, 2)) // Wednesday 07:30
	if p.count() != 2 {
		t.Fatalf("expected two playbacks across days, got %d", p.count())
	}
	got, _ := st.Get("a")
	if got.LastFiredOn != "2024-01-03" {
		t.Fatalf("marker should track the latest firing, got %q", got.LastFiredOn)
	}
}

func TestTickSwallowsPlaybackFailure(t *testing.T) {
	svc, st, p := newTestService(t, weekly("a"))
	p.err = errors.New("decoder crashed")

	tickAt(svc, monday0730)
	if p.count() != 1 {
		t.Fatalf("expected one play attempt, got %d", p.count())
	}
	got, _ := st.Get("a")
	if got.LastFiredOn != "2024-01-01" {
		t.Fatalf("marker must advance even when playback fails, got %q", got.LastFiredOn)
	}

	// A broken clip is logged, never retried the same day.
	tickAt(svc, monday0730)
	if p.count() != 1 {
		t.Fatalf("failed playback retried, got %d attempts", p.count())
	}
}

func TestTickSkipsInactive(t *testing.T) {
	svc, st, p := newTestService(t, weekly("a"))
	if _, err := st.Mutate(context.Background(), "a", func(s *schedule.Schedule) error {
		s.IsActive = false
		return nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	tickAt(svc, monday0730)
	if p.count() != 0 {
		t.Fatalf("inactive schedule fired")
	}
}

func TestTickPrefersLocalFileOverURL(t *testing.T) {
	s := weekly("a")
	s.ClipFilePath = "/srv/clips/bell.wav"
	svc, _, p := newTestService(t, s)

	tickAt(svc, monday0730)
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.plays) != 1 || p.plays[0] != "/srv/clips/bell.wav" {
		t.Fatalf("expected local file locator, got %v", p.plays)
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	svc, _, p := newTestService(t, weekly("a"), func() schedule.Schedule {
		s := weekly("b")
		s.Time = "07:30"
		return s
	}())
	gate := make(chan struct{})
	p.gate = gate

	done := make(chan struct{})
	go func() {
		tickAt(svc, monday0730)
		close(done)
	}()

	// Wait for the first tick to enter playback, then try a second pass.
	deadline := time.After(2 * time.Second)
	for p.count() == 0 {
		select {
		case <-deadline:
			t.Fatalf("first tick never started playing")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	svc.tick(context.Background()) // must be skipped, not queued
	close(gate)
	<-done

	if got := p.count(); got != 2 {
		t.Fatalf("expected the blocked tick to finish both schedules and the overlapping one to skip, got %d plays", got)
	}
}
