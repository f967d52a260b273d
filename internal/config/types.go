package config

// Config is the root of chimed's configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Remote     RemoteConfig     `json:"remote"`
	Trigger    TriggerConfig    `json:"trigger"`
	Playback   PlaybackConfig   `json:"playback"`
	Automation AutomationConfig `json:"automation"`
	Notify     NotifyConfig     `json:"notify,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console *bool  `json:"console,omitempty"` // nil means true
	File    struct {
		Enabled bool   `json:"enabled,omitempty"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

// StorageConfig selects the local schedule cache backend.
//
// Driver values:
//   - "file": dependency-free JSON snapshot (default)
//   - "sqlite": SQLite database file (optional build tag)
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// RemoteConfig points at the authoritative schedule store.
// An empty base_url disables remote sync entirely.
type RemoteConfig struct {
	BaseURL    string `json:"base_url,omitempty"`
	Timeout    string `json:"timeout,omitempty"`      // per-request; default "5s"
	PushPerSec int    `json:"push_per_sec,omitempty"` // reconcile push rate; default 5
}

type TriggerConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"`      // nil means true
	Interval    string `json:"interval,omitempty"`     // tick period; default "30s"
	PlayTimeout string `json:"play_timeout,omitempty"` // per-fire playback bound; default "30s"
}

// PlaybackConfig configures the in-process player and clip resolution.
type PlaybackConfig struct {
	// Command is the player invocation; "{file}" is replaced with the clip
	// locator. Default: "ffplay -nodisp -autoexit -loglevel quiet {file}".
	Command string `json:"command,omitempty"`
	// ClipRoots are directories searched when resolving a clip URL to a
	// local file path for the device delegation path.
	ClipRoots []string `json:"clip_roots,omitempty"`
}

type AutomationConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`  // nil means true
	UnitDir string `json:"unit_dir,omitempty"` // default ~/.config/systemd/user
	Timeout string `json:"timeout,omitempty"`  // per-call bound; default "5s"
}

type NotifyConfig struct {
	Enabled    bool   `json:"enabled,omitempty"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}
