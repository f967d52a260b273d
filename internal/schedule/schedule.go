// Package schedule defines the recurring playback rule entity and its
// validation invariants. A Schedule binds one audio clip to a time-of-day
// (minute resolution) and a set of weekdays; it fires at most once per
// calendar day.
package schedule

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Source says who is responsible for firing a schedule.
type Source string

const (
	// SourceWeb schedules fire only in-process (trigger evaluator).
	SourceWeb Source = "web"
	// SourceDevice schedules are additionally provisioned to the host-level
	// automation facility so they fire even while chimed is not running.
	SourceDevice Source = "device"
)

// dateLayout is the day-granularity format used for LastFiredOn.
const dateLayout = "2006-01-02"

var (
	ErrNoDays    = errors.New("active schedule needs at least one weekday")
	ErrBadTime   = errors.New("time must be HH:MM (24-hour)")
	ErrBadDay    = errors.New("weekday must be 0 (Sunday) .. 6 (Saturday)")
	ErrBadSource = errors.New(`source must be "web" or "device"`)
	ErrNoClip    = errors.New("clip is required")
)

// Clip identifies the audio resource a schedule plays. FilePath is optional;
// it is only required for the device delegation path.
type Clip struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	FilePath string `json:"filePath,omitempty"`
}

// Schedule is the unit of recurrence.
//
// The JSON field names are the wire shape shared with the remote store and
// the local cache snapshot.
type Schedule struct {
	ID           string    `json:"id"`
	ClipID       string    `json:"clipId"`
	ClipName     string    `json:"clipName"`
	ClipURL      string    `json:"clipUrl"`
	ClipFilePath string    `json:"clipFilePath,omitempty"`
	Time         string    `json:"time"` // "HH:MM", 24-hour, minute resolution
	Days         []int     `json:"days"` // 0=Sunday .. 6=Saturday, normalized
	IsActive     bool      `json:"isActive"`
	Source       Source    `json:"source"`
	CreatedAt    time.Time `json:"createdAt"`
	LastFiredOn  string    `json:"lastFiredOn,omitempty"` // local calendar date, "2006-01-02"
}

// FormData carries user input for create/update.
type FormData struct {
	Time   string
	Days   []int
	Source Source
}

// ParseTime validates and splits an "HH:MM" 24-hour time.
func ParseTime(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadTime, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("%w: invalid hour in %q", ErrBadTime, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("%w: invalid minute in %q", ErrBadTime, s)
	}
	return h, m, nil
}

// CanonicalTime validates raw and returns it zero-padded ("7:30" -> "07:30").
// Stored times are always canonical so the evaluator can match them against
// a formatted clock reading by plain string equality.
func CanonicalTime(raw string) (string, error) {
	h, m, err := ParseTime(raw)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// NormalizeDays collapses duplicates, sorts, and rejects out-of-range values.
// Order and duplicates in the input are irrelevant per the entity contract.
func NormalizeDays(days []int) ([]int, error) {
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("%w: %d", ErrBadDay, d)
		}
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return out, nil
}

// ParseSource validates a source string.
func ParseSource(s string) (Source, error) {
	switch Source(strings.TrimSpace(strings.ToLower(s))) {
	case SourceWeb:
		return SourceWeb, nil
	case SourceDevice:
		return SourceDevice, nil
	default:
		return "", fmt.Errorf("%w: got %q", ErrBadSource, s)
	}
}

// Validate enforces the entity invariants. It is called at every mutation
// entry point (create, update, toggle-on).
func (s *Schedule) Validate() error {
	c, err := CanonicalTime(s.Time)
	if err != nil {
		return err
	}
	// The evaluator matches by string equality against a "15:04" clock
	// reading, so a non-canonical stored time would never fire.
	if c != s.Time {
		return fmt.Errorf("%w: %q is not zero-padded", ErrBadTime, s.Time)
	}
	if s.Source != SourceWeb && s.Source != SourceDevice {
		return ErrBadSource
	}
	if s.IsActive && len(s.Days) == 0 {
		return ErrNoDays
	}
	for _, d := range s.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: %d", ErrBadDay, d)
		}
	}
	return nil
}

// Matches reports whether the schedule is due at the given instant:
// same HH:MM and the instant's weekday is in Days. It does not consult
// IsActive or the dedup marker.
func (s *Schedule) Matches(now time.Time) bool {
	if s.Time != now.Format("15:04") {
		return false
	}
	return slices.Contains(s.Days, int(now.Weekday()))
}

// FiredOn reports whether the schedule already fired on the calendar day of t.
// Comparison is by local date equality, not by instant.
func (s *Schedule) FiredOn(t time.Time) bool {
	return s.LastFiredOn != "" && s.LastFiredOn == t.Format(dateLayout)
}

// MarkFired advances the dedup marker to the calendar day of t.
func (s *Schedule) MarkFired(t time.Time) {
	s.LastFiredOn = t.Format(dateLayout)
}

// Clone returns a deep copy (Days is the only reference field).
func (s Schedule) Clone() Schedule {
	cp := s
	cp.Days = slices.Clone(s.Days)
	return cp
}
