//go:build linux

package automation

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"

	logx "chime/pkg/logx"
)

// systemdFacility provisions schedules as systemd *user* timer+service unit
// pairs so they keep firing while chimed itself is down.
type systemdFacility struct {
	cfg Config
	log logx.Logger
}

// New returns the platform facility. On Linux that is systemd over D-Bus.
func New(cfg Config, log logx.Logger) Facility {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &systemdFacility{cfg: cfg, log: log}
}

func (f *systemdFacility) Probe(ctx context.Context) (Handle, error) {
	if !f.cfg.Enabled {
		return nil, ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// A cheap round-trip proves the manager actually answers.
	if _, err := conn.GetManagerProperty("Version"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	unitDir := strings.TrimSpace(f.cfg.UnitDir)
	if unitDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: no unit dir: %v", ErrUnavailable, err)
		}
		unitDir = filepath.Join(home, ".config", "systemd", "user")
	}

	return &systemdHandle{
		conn:    conn,
		unitDir: unitDir,
		player:  f.cfg.PlayerCommand,
		timeout: f.cfg.Timeout,
		log:     f.log,
	}, nil
}

type systemdHandle struct {
	conn    *dbus.Conn
	unitDir string
	player  string
	timeout time.Duration
	log     logx.Logger
}

func (h *systemdHandle) Close() { h.conn.Close() }

func (h *systemdHandle) Create(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	argv, err := playerArgv(h.player, job.FilePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	cal, err := onCalendar(job.Days, job.Time)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}

	if err := os.MkdirAll(h.unitDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	base := unitBase(job.ID)
	service := fmt.Sprintf(`[Unit]
Description=chime playback for schedule %s

[Service]
Type=oneshot
ExecStart=%s
`, job.ID, strings.Join(argv, " "))
	timer := fmt.Sprintf(`[Unit]
Description=chime timer for schedule %s

[Timer]
OnCalendar=%s

[Install]
WantedBy=timers.target
`, job.ID, cal)

	if err := os.WriteFile(filepath.Join(h.unitDir, base+".service"), []byte(service), 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if err := os.WriteFile(filepath.Join(h.unitDir, base+".timer"), []byte(timer), 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}

	if err := h.conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("%w: daemon-reload: %v", ErrRejected, err)
	}
	if _, _, err := h.conn.EnableUnitFilesContext(ctx, []string{base + ".timer"}, false, true); err != nil {
		return fmt.Errorf("%w: enable: %v", ErrRejected, err)
	}
	if err := h.startUnit(ctx, base+".timer"); err != nil {
		return err
	}
	h.log.Info("provisioned systemd timer",
		logx.String("unit", base+".timer"), logx.String("calendar", cal))
	return nil
}

func (h *systemdHandle) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	base := unitBase(id)
	// Absence is not an error: stop/disable failures on a missing unit are
	// expected and swallowed.
	ch := make(chan string, 1)
	if _, err := h.conn.StopUnitContext(ctx, base+".timer", "replace", ch); err == nil {
		waitJob(ctx, ch)
	}
	_, _ = h.conn.DisableUnitFilesContext(ctx, []string{base + ".timer"}, false)

	for _, suffix := range []string{".timer", ".service"} {
		if err := os.Remove(filepath.Join(h.unitDir, base+suffix)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: remove unit: %v", ErrRejected, err)
		}
	}
	if err := h.conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("%w: daemon-reload: %v", ErrRejected, err)
	}
	return nil
}

func (h *systemdHandle) Enable(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	base := unitBase(id)
	if _, _, err := h.conn.EnableUnitFilesContext(ctx, []string{base + ".timer"}, false, true); err != nil {
		return fmt.Errorf("%w: enable: %v", ErrRejected, err)
	}
	return h.startUnit(ctx, base+".timer")
}

func (h *systemdHandle) Disable(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	base := unitBase(id)
	ch := make(chan string, 1)
	if _, err := h.conn.StopUnitContext(ctx, base+".timer", "replace", ch); err != nil {
		return fmt.Errorf("%w: stop: %v", ErrRejected, err)
	}
	waitJob(ctx, ch)
	if _, err := h.conn.DisableUnitFilesContext(ctx, []string{base + ".timer"}, false); err != nil {
		return fmt.Errorf("%w: disable: %v", ErrRejected, err)
	}
	return nil
}

func (h *systemdHandle) Status(ctx context.Context, id string) (Status, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	base := unitBase(id)
	st := Status{}
	if _, err := os.Stat(filepath.Join(h.unitDir, base+".timer")); err == nil {
		st.Exists = true
	}
	units, err := h.conn.ListUnitsByNamesContext(ctx, []string{base + ".timer"})
	if err != nil {
		return st, fmt.Errorf("%w: list: %v", ErrRejected, err)
	}
	for _, u := range units {
		if u.Name == base+".timer" && u.ActiveState == "active" {
			st.Enabled = true
		}
	}
	return st, nil
}

func (h *systemdHandle) RunOnce(ctx context.Context, filePath string) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	argv, err := playerArgv(h.player, filePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	name := fmt.Sprintf("chime-test-%d.service", time.Now().UnixNano())
	props := []dbus.Property{
		dbus.PropDescription("chime test playback"),
		dbus.PropType("oneshot"),
		dbus.PropExecStart(argv, false),
	}
	ch := make(chan string, 1)
	if _, err := h.conn.StartTransientUnitContext(ctx, name, "replace", props, ch); err != nil {
		return fmt.Errorf("%w: transient start: %v", ErrRejected, err)
	}
	if res := waitJob(ctx, ch); res != "" && res != "done" {
		return fmt.Errorf("%w: transient start result %q", ErrRejected, res)
	}
	return nil
}

func (h *systemdHandle) startUnit(ctx context.Context, unit string) error {
	ch := make(chan string, 1)
	if _, err := h.conn.StartUnitContext(ctx, unit, "replace", ch); err != nil {
		return fmt.Errorf("%w: start: %v", ErrRejected, err)
	}
	if res := waitJob(ctx, ch); res != "" && res != "done" {
		return fmt.Errorf("%w: start result %q", ErrRejected, res)
	}
	return nil
}

func waitJob(ctx context.Context, ch <-chan string) string {
	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		return ""
	}
}

// playerArgv splits the player command, substitutes the file path, and
// absolutizes the binary (systemd requires an absolute ExecStart).
func playerArgv(command, filePath string) ([]string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("no player command configured")
	}
	args := strings.Fields(command)
	replaced := false
	for i, a := range args {
		if strings.Contains(a, "{file}") {
			args[i] = strings.ReplaceAll(a, "{file}", filePath)
			replaced = true
		}
	}
	if !replaced {
		args = append(args, filePath)
	}
	if !filepath.IsAbs(args[0]) {
		abs, err := exec.LookPath(args[0])
		if err != nil {
			return nil, fmt.Errorf("player %q not found: %w", args[0], err)
		}
		args[0] = abs
	}
	return args, nil
}

// unitBase derives a systemd-safe unit name prefix from a schedule id.
// The id doubles as the external task key, giving one-to-one lookup.
func unitBase(id string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, id)
	return "chime-" + mapped
}

var weekdayNames = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// onCalendar renders days+time as a systemd OnCalendar expression,
// e.g. "Mon,Wed,Fri *-*-* 07:30:00".
func onCalendar(days []int, hhmm string) (string, error) {
	if len(days) == 0 {
		return "", fmt.Errorf("no weekdays")
	}
	parts := strings.SplitN(strings.TrimSpace(hhmm), ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("bad time %q", hhmm)
	}
	sorted := append([]int(nil), days...)
	sort.Ints(sorted)
	names := make([]string, 0, len(sorted))
	for _, d := range sorted {
		if d < 0 || d > 6 {
			return "", fmt.Errorf("bad weekday %d", d)
		}
		names = append(names, weekdayNames[d])
	}
	return fmt.Sprintf("%s *-*-* %s:%s:00", strings.Join(names, ","), parts[0], parts[1]), nil
}
