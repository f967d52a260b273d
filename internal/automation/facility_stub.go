//go:build !linux

package automation

import (
	"context"

	logx "chime/pkg/logx"
)

type stubFacility struct{}

// New returns the platform facility. Off Linux there is none; Probe always
// reports the facility unavailable and device schedules fall back to
// in-process triggering.
func New(cfg Config, log logx.Logger) Facility {
	_ = cfg
	_ = log
	return stubFacility{}
}

func (stubFacility) Probe(ctx context.Context) (Handle, error) {
	return nil, ErrUnavailable
}
