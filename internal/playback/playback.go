// Package playback abstracts audio resolution and playing. The schedule
// engine never decodes audio itself; it resolves a clip to a playable
// locator (and, when possible, a filesystem path for the device delegation
// path) and shells out to a configured player command.
package playback

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"chime/internal/schedule"
	logx "chime/pkg/logx"
)

var ErrNoPlayer = errors.New("no player command configured")

// Resolved is the outcome of clip resolution.
type Resolved struct {
	// Locator is always usable for in-process playback (path or URL).
	Locator string
	// FilePath is set when a local file could be resolved; required for
	// the external automation path.
	FilePath string
	// Lossless marks whether FilePath points at an uncompressed rendition.
	// A lossy path still works but is recorded as degraded confidence.
	Lossless bool
}

// Resolver turns a clip reference into something playable.
type Resolver interface {
	Resolve(ctx context.Context, clip schedule.Clip) (Resolved, error)
}

// Player plays a resolved locator. Volume is 0..1; scheduled fires use 1.0,
// manual tests use a reduced volume.
type Player interface {
	Play(ctx context.Context, locator string, volume float64) error
}

// ExecPlayer shells out to a configured command, replacing "{file}" with
// the locator and "{volume}" (0..100) when present.
type ExecPlayer struct {
	command string
	log     logx.Logger
}

const defaultCommand = "ffplay -nodisp -autoexit -loglevel quiet {file}"

func NewExecPlayer(command string, log logx.Logger) *ExecPlayer {
	if strings.TrimSpace(command) == "" {
		command = defaultCommand
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ExecPlayer{command: command, log: log}
}

func (p *ExecPlayer) Play(ctx context.Context, locator string, volume float64) error {
	if volume <= 0 || volume > 1 {
		volume = 1
	}
	args := strings.Fields(p.command)
	if len(args) == 0 {
		return ErrNoPlayer
	}
	replaced := false
	for i, a := range args {
		switch {
		case strings.Contains(a, "{file}"):
			args[i] = strings.ReplaceAll(a, "{file}", locator)
			replaced = true
		case strings.Contains(a, "{volume}"):
			args[i] = strings.ReplaceAll(a, "{volume}", strconv.Itoa(int(volume*100)))
		}
	}
	if !replaced {
		args = append(args, locator)
	}

	p.log.Debug("playing clip", logx.String("locator", locator), logx.Any("volume", volume))
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("player %s: %w (output: %s)", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
