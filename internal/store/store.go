package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"chime/internal/schedule"
	logx "chime/pkg/logx"
)

var ErrNotFound = errors.New("schedule not found")
var ErrDuplicateID = errors.New("schedule id already exists")

// pushTimeout bounds the detached best-effort remote push after a save.
const pushTimeout = 30 * time.Second

// DualStore holds the canonical in-memory schedule list, backed by a local
// cache (synchronous) and a remote store (best-effort).
type DualStore struct {
	log    logx.Logger
	cache  Cache
	remote Remote

	mu   sync.Mutex
	list []schedule.Schedule

	fromCache bool

	// pushMu serializes the detached remote pushes; pushSeq/pushSent let a
	// push whose snapshot has been superseded drop itself, so the backend
	// always converges on the newest state. pushSeq is written under mu,
	// pushSent under pushMu.
	pushMu   sync.Mutex
	pushSeq  uint64
	pushSent uint64
}

func New(cache Cache, remote Remote, log logx.Logger) *DualStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DualStore{log: log, cache: cache, remote: remote}
}

// Load populates the in-memory list on startup. The remote wins when
// reachable; on remote failure the local cache is the fallback and the
// failure is non-fatal. Returns an error only when neither source could
// be consulted at all.
func (d *DualStore) Load(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.remote != nil {
		list, err := d.remote.FetchAll(ctx)
		if err == nil {
			d.list = cloneList(list)
			d.fromCache = false
			// Refresh the cache from the authoritative copy.
			if d.cache != nil {
				if cerr := d.cache.Save(cloneList(d.list)); cerr != nil {
					d.log.Warn("cache refresh after remote load failed", logx.Err(cerr))
				}
			}
			d.log.Info("schedules loaded from remote", logx.Int("count", len(d.list)))
			return nil
		}
		d.log.Warn("remote load failed, falling back to cache", logx.Err(err))
	}

	if len(d.list) > 0 || d.cache == nil {
		return nil
	}
	list, err := d.cache.Load()
	if err != nil {
		return err
	}
	d.list = cloneList(list)
	d.fromCache = len(d.list) > 0
	d.log.Info("schedules loaded from cache", logx.Int("count", len(d.list)))
	return nil
}

// NeedsReconcile reports whether the last Load fell back to cached data
// that the remote store has not seen.
func (d *DualStore) NeedsReconcile() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fromCache
}

// ReconcileFromCache best-effort pushes every record to the remote store
// after a Load that fell back to the cache (one-way cache-to-remote
// repair). Individual push failures are logged and do not abort the batch.
func (d *DualStore) ReconcileFromCache(ctx context.Context) {
	if d.remote == nil {
		return
	}
	d.mu.Lock()
	snapshot := cloneList(d.list)
	d.fromCache = false
	d.mu.Unlock()

	var failed int
	for _, s := range snapshot {
		if err := d.remote.Push(ctx, s); err != nil {
			failed++
			d.log.Warn("reconcile push failed", logx.String("id", s.ID), logx.Err(err))
		}
	}
	d.log.Info("cache-to-remote reconcile finished",
		logx.Int("pushed", len(snapshot)-failed), logx.Int("failed", failed))
}

// Save persists the current collection: local cache synchronously, remote
// push detached. A cache write failure is returned to the caller; remote
// failures never are.
func (d *DualStore) Save(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saveLocked(ctx)
}

func (d *DualStore) saveLocked(ctx context.Context) error {
	snapshot := cloneList(d.list)

	if d.cache != nil {
		if err := d.cache.Save(snapshot); err != nil {
			return err
		}
	}
	if d.remote != nil {
		// Detached so a slow or dead backend never blocks the mutation path.
		d.pushSeq++
		seq := d.pushSeq
		go func() {
			d.pushMu.Lock()
			defer d.pushMu.Unlock()
			if seq <= d.pushSent {
				// A newer snapshot already reached the backend.
				return
			}
			d.pushSent = seq

			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
			defer cancel()
			for _, s := range snapshot {
				if err := d.remote.Push(pctx, s); err != nil {
					d.log.Warn("remote push failed", logx.String("id", s.ID), logx.Err(err))
				}
			}
		}()
	}
	return nil
}

// Append adds a new schedule and persists.
func (d *DualStore) Append(ctx context.Context, s schedule.Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.list {
		if d.list[i].ID == s.ID {
			return ErrDuplicateID
		}
	}
	d.list = append(d.list, s.Clone())
	return d.saveLocked(ctx)
}

// Mutate applies fn to a copy of the schedule with the given id, validates
// the result, commits it, and persists. The updated schedule is returned.
func (d *DualStore) Mutate(ctx context.Context, id string, fn func(*schedule.Schedule) error) (schedule.Schedule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.list {
		if d.list[i].ID != id {
			continue
		}
		cp := d.list[i].Clone()
		if err := fn(&cp); err != nil {
			return schedule.Schedule{}, err
		}
		cp.ID = id // immutable
		if err := cp.Validate(); err != nil {
			return schedule.Schedule{}, err
		}
		d.list[i] = cp
		if err := d.saveLocked(ctx); err != nil {
			return schedule.Schedule{}, err
		}
		return cp.Clone(), nil
	}
	return schedule.Schedule{}, ErrNotFound
}

// Remove deletes a schedule and persists.
func (d *DualStore) Remove(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.list {
		if d.list[i].ID == id {
			d.list = append(d.list[:i], d.list[i+1:]...)
			return d.saveLocked(ctx)
		}
	}
	return ErrNotFound
}

// Get returns a copy of one schedule.
func (d *DualStore) Get(id string) (schedule.Schedule, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.list {
		if d.list[i].ID == id {
			return d.list[i].Clone(), true
		}
	}
	return schedule.Schedule{}, false
}

// GetAll returns a copy of the whole collection.
func (d *DualStore) GetAll() []schedule.Schedule {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneList(d.list)
}

// GetActive returns copies of schedules with IsActive set.
func (d *DualStore) GetActive() []schedule.Schedule {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]schedule.Schedule, 0, len(d.list))
	for i := range d.list {
		if d.list[i].IsActive {
			out = append(out, d.list[i].Clone())
		}
	}
	return out
}

func (d *DualStore) Close() error {
	if d.cache != nil {
		return d.cache.Close()
	}
	return nil
}

func cloneList(in []schedule.Schedule) []schedule.Schedule {
	out := make([]schedule.Schedule, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
