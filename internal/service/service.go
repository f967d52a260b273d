// Package service orchestrates the schedule lifecycle. It is the only
// component that decides whether the automation facility is touched; the
// dual store stays the durable source of truth even when device-level
// delegation is degraded.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chime/internal/automation"
	"chime/internal/notify"
	"chime/internal/playback"
	"chime/internal/schedule"
	"chime/internal/store"
	logx "chime/pkg/logx"
)

type Service struct {
	log      logx.Logger
	store    *store.DualStore
	facility automation.Facility
	resolver playback.Resolver
	player   playback.Player
	notify   *notify.Service
}

func New(st *store.DualStore, facility automation.Facility, resolver playback.Resolver, player playback.Player, alerts *notify.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log,
		store:    st,
		facility: facility,
		resolver: resolver,
		player:   player,
		notify:   alerts,
	}
}

// Create validates the input, resolves the clip, provisions a device task
// when asked (tolerating failure), and persists the new schedule.
func (s *Service) Create(ctx context.Context, clip schedule.Clip, form schedule.FormData) (schedule.Schedule, error) {
	if clip.ID == "" {
		return schedule.Schedule{}, schedule.ErrNoClip
	}
	hhmm, err := schedule.CanonicalTime(form.Time)
	if err != nil {
		return schedule.Schedule{}, err
	}
	days, err := schedule.NormalizeDays(form.Days)
	if err != nil {
		return schedule.Schedule{}, err
	}
	if len(days) == 0 {
		return schedule.Schedule{}, schedule.ErrNoDays
	}
	source, err := schedule.ParseSource(string(form.Source))
	if err != nil {
		return schedule.Schedule{}, err
	}

	res := s.resolve(ctx, clip)

	sch := schedule.Schedule{
		ID:           uuid.NewString(),
		ClipID:       clip.ID,
		ClipName:     clip.Name,
		ClipURL:      clip.URL,
		ClipFilePath: res.FilePath,
		Time:         hhmm,
		Days:         days,
		IsActive:     true,
		Source:       source,
		CreatedAt:    time.Now(),
	}

	if source == schedule.SourceDevice {
		s.provision(ctx, sch, res)
	}

	if err := s.store.Append(ctx, sch); err != nil {
		// The entity never became durable; don't leave a timer behind.
		if source == schedule.SourceDevice {
			s.revoke(ctx, sch.ID)
		}
		return schedule.Schedule{}, err
	}
	s.log.Info("schedule created",
		logx.String("id", sch.ID), logx.String("clip", sch.ClipName),
		logx.String("time", sch.Time), logx.String("source", string(sch.Source)))
	return sch, nil
}

// Update re-resolves the clip, unconditionally revokes any prior external
// task (cheap and idempotent), re-provisions it when the new source is
// device, and writes the merged fields.
func (s *Service) Update(ctx context.Context, id string, clip schedule.Clip, form schedule.FormData) (schedule.Schedule, error) {
	if clip.ID == "" {
		return schedule.Schedule{}, schedule.ErrNoClip
	}
	hhmm, err := schedule.CanonicalTime(form.Time)
	if err != nil {
		return schedule.Schedule{}, err
	}
	days, err := schedule.NormalizeDays(form.Days)
	if err != nil {
		return schedule.Schedule{}, err
	}
	// Rejected up front so a doomed update never revokes the existing
	// external task.
	if len(days) == 0 {
		return schedule.Schedule{}, schedule.ErrNoDays
	}
	source, err := schedule.ParseSource(string(form.Source))
	if err != nil {
		return schedule.Schedule{}, err
	}
	if _, ok := s.store.Get(id); !ok {
		return schedule.Schedule{}, store.ErrNotFound
	}

	res := s.resolve(ctx, clip)

	// Revoke any prior task before re-provisioning; replacing is simpler
	// and safer than diffing the old task's parameters.
	s.revoke(ctx, id)

	updated, err := s.store.Mutate(ctx, id, func(sch *schedule.Schedule) error {
		sch.ClipID = clip.ID
		sch.ClipName = clip.Name
		sch.ClipURL = clip.URL
		sch.ClipFilePath = res.FilePath
		sch.Time = hhmm
		sch.Days = days
		sch.Source = source
		return nil
	})
	if err != nil {
		return schedule.Schedule{}, err
	}

	if source == schedule.SourceDevice {
		s.provision(ctx, updated, res)
	}
	s.log.Info("schedule updated", logx.String("id", id))
	return updated, nil
}

// Delete revokes the external task for device schedules (tolerating
// failure) and always removes the entity from both stores.
func (s *Service) Delete(ctx context.Context, id string) error {
	sch, ok := s.store.Get(id)
	if !ok {
		return store.ErrNotFound
	}
	if sch.Source == schedule.SourceDevice {
		s.revoke(ctx, id)
	}
	if err := s.store.Remove(ctx, id); err != nil {
		return err
	}
	s.log.Info("schedule deleted", logx.String("id", id))
	return nil
}

// Toggle flips IsActive, persisting the flip first; the external task's
// enabled state is then best-effort mirrored for device schedules.
func (s *Service) Toggle(ctx context.Context, id string) (schedule.Schedule, error) {
	updated, err := s.store.Mutate(ctx, id, func(sch *schedule.Schedule) error {
		sch.IsActive = !sch.IsActive
		return nil
	})
	if err != nil {
		return schedule.Schedule{}, err
	}

	if updated.Source == schedule.SourceDevice {
		handle, err := s.facility.Probe(ctx)
		if err != nil {
			s.log.Info("automation facility unavailable, toggle is local only", logx.String("id", id))
			return updated, nil
		}
		defer handle.Close()
		if updated.IsActive {
			err = handle.Enable(ctx, id)
		} else {
			err = handle.Disable(ctx, id)
		}
		if err != nil {
			s.alert(ctx, fmt.Sprintf("schedule %s: external task toggle failed: %v", id, err))
		}
	}
	s.log.Info("schedule toggled", logx.String("id", id), logx.Bool("active", updated.IsActive))
	return updated, nil
}

// TaskStatus reports whether an external task exists for the schedule and
// whether it is enabled. Web schedules and an unavailable facility both
// read as no task.
func (s *Service) TaskStatus(ctx context.Context, id string) (automation.Status, error) {
	sch, ok := s.store.Get(id)
	if !ok {
		return automation.Status{}, store.ErrNotFound
	}
	if sch.Source != schedule.SourceDevice {
		return automation.Status{}, nil
	}
	handle, err := s.facility.Probe(ctx)
	if err != nil {
		return automation.Status{}, nil
	}
	defer handle.Close()
	return handle.Status(ctx, id)
}

// TestPlay validates what a device-level fire will actually sound like by
// preferring the facility's own execution pipeline; on any adapter-path
// failure it falls back to direct in-process playback at reduced volume.
func (s *Service) TestPlay(ctx context.Context, clip schedule.Clip) error {
	res := s.resolve(ctx, clip)

	if handle, err := s.facility.Probe(ctx); err == nil {
		defer handle.Close()
		target := res.FilePath
		if target == "" {
			target = res.Locator
		}
		if rerr := handle.RunOnce(ctx, target); rerr == nil {
			s.log.Info("test playback ran via automation facility", logx.String("clip", clip.Name))
			return nil
		} else {
			s.log.Warn("facility test playback failed, falling back to in-process player",
				logx.String("clip", clip.Name), logx.Err(rerr))
		}
	}

	return s.player.Play(ctx, res.Locator, 0.5)
}

func (s *Service) GetAll() []schedule.Schedule    { return s.store.GetAll() }
func (s *Service) GetActive() []schedule.Schedule { return s.store.GetActive() }

// resolve never fails the calling operation; worst case the raw URL is the
// locator and the device path runs with degraded confidence.
func (s *Service) resolve(ctx context.Context, clip schedule.Clip) playback.Resolved {
	res, err := s.resolver.Resolve(ctx, clip)
	if err != nil {
		s.log.Warn("clip resolution failed", logx.String("clip", clip.Name), logx.Err(err))
		return playback.Resolved{Locator: clip.URL}
	}
	if res.FilePath != "" && !res.Lossless {
		s.log.Warn("clip resolved to a lossy rendition; device delegation is less reliable",
			logx.String("clip", clip.Name), logx.String("path", res.FilePath))
	}
	return res
}

// provision attempts to create the external task. Failure is soft: the
// in-process evaluator remains the fallback path of record, but the
// operator is told.
func (s *Service) provision(ctx context.Context, sch schedule.Schedule, res playback.Resolved) {
	handle, err := s.facility.Probe(ctx)
	if err != nil {
		s.log.Info("automation facility unavailable, schedule stays in-process only",
			logx.String("id", sch.ID))
		return
	}
	defer handle.Close()

	target := res.FilePath
	if target == "" {
		target = res.Locator
	}
	job := automation.Job{ID: sch.ID, FilePath: target, Time: sch.Time, Days: sch.Days}
	if err := handle.Create(ctx, job); err != nil {
		s.alert(ctx, fmt.Sprintf("schedule %s (%s): external task creation failed: %v", sch.ID, sch.ClipName, err))
	}
}

// revoke deletes the external task if one exists. Absence and facility
// unavailability are both fine.
func (s *Service) revoke(ctx context.Context, id string) {
	handle, err := s.facility.Probe(ctx)
	if err != nil {
		return
	}
	defer handle.Close()
	if err := handle.Delete(ctx, id); err != nil {
		s.alert(ctx, fmt.Sprintf("schedule %s: external task removal failed: %v", id, err))
	}
}

func (s *Service) alert(ctx context.Context, msg string) {
	if s.notify != nil {
		s.notify.Alert(ctx, msg)
		return
	}
	s.log.Warn(msg)
}
