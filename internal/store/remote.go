package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"chime/internal/schedule"
	logx "chime/pkg/logx"
)

// Remote is the authoritative schedule store. All calls are bounded and
// best-effort from the dual store's point of view; a nil Remote disables
// remote sync entirely.
type Remote interface {
	FetchAll(ctx context.Context) ([]schedule.Schedule, error)
	Push(ctx context.Context, s schedule.Schedule) error
}

// RemoteConfig configures the HTTP remote store client.
type RemoteConfig struct {
	BaseURL    string
	Timeout    time.Duration // per-request; default 5s
	PushPerSec int           // reconcile push rate; default 5
}

type httpRemote struct {
	base    string
	client  *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

// Wire shape of the backend API.
type collectionResponse struct {
	Success   bool                `json:"success"`
	Schedules []schedule.Schedule `json:"schedules"`
	Error     string              `json:"error,omitempty"`
}

type ackResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// NewHTTPRemote builds the remote client. Returns nil when BaseURL is empty.
func NewHTTPRemote(cfg RemoteConfig, log logx.Logger) Remote {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pps := cfg.PushPerSec
	if pps <= 0 {
		pps = 5
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &httpRemote{
		base:    base,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(pps), pps),
		log:     log,
	}
}

func (r *httpRemote) FetchAll(ctx context.Context) ([]schedule.Schedule, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+"/api/schedules", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("remote fetch: unexpected status %s", resp.Status)
	}
	var out collectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("remote fetch: decode: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("remote fetch: backend error: %s", out.Error)
	}
	return out.Schedules, nil
}

func (r *httpRemote) Push(ctx context.Context, s schedule.Schedule) error {
	// Pushes are rate-limited so a large cache-to-remote repair batch
	// cannot hammer the backend.
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/api/schedules", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("remote push: unexpected status %s", resp.Status)
	}
	var out ackResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("remote push: decode: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("remote push: backend error: %s", out.Error)
	}
	return nil
}
