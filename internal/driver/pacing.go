package driver

import (
	"time"

	"github.com/loadsmith/loadsmith/internal/domain"
)

// pacer computes the target aggregate requests-per-second for a load
// profile at a given point into the run. It has no mutable state and is
// safe to share across workers.
type pacer struct {
	profile domain.LoadProfile
}

func newPacer(profile domain.LoadProfile) pacer {
	return pacer{profile: profile}
}

// targetRPS returns the aggregate rate the whole worker pool should be
// issuing at, given how far into the run we are. A return of 0 means
// "no rate limit" (Stress).
func (p pacer) targetRPS(elapsed time.Duration) float64 {
	switch p.profile.Type {
	case domain.ProfileStress:
		return 0
	case domain.ProfileRampUp:
		total := p.profile.Duration()
		frac := 1.0
		if total > 0 {
			frac = elapsed.Seconds() / total.Seconds()
		}
		frac = clamp01(frac)
		base := p.profile.StartRatePerSec + (p.profile.EndRatePerSec-p.profile.StartRatePerSec)*frac
		return p.rampScale(elapsed) * base
	case domain.ProfileSpike:
		start := p.spikeStart()
		if elapsed >= start && elapsed <= start+p.profile.SpikeDuration {
			return p.rampScale(elapsed) * p.profile.SpikeRatePerSec
		}
		return p.rampScale(elapsed) * p.profile.BaseRatePerSec
	case domain.ProfileConstantRate, domain.ProfileSoak:
		return p.rampScale(elapsed) * p.profile.RatePerSec
	default:
		return p.rampScale(elapsed) * p.profile.RatePerSec
	}
}

// spikeStart returns when the spike window begins, defaulting to the
// midpoint of the run per spec.
func (p pacer) spikeStart() time.Duration {
	if p.profile.SpikeStartSeconds > 0 {
		return time.Duration(p.profile.SpikeStartSeconds) * time.Second
	}
	return p.profile.Duration() / 2
}

// rampScale implements the common ramp-up scaling applied to every
// rate-based profile: effective rps is scaled by min(1, elapsed/rampUp).
func (p pacer) rampScale(elapsed time.Duration) float64 {
	if p.profile.RampUpSeconds <= 0 {
		return 1
	}
	frac := elapsed.Seconds() / float64(p.profile.RampUpSeconds)
	return clamp01(frac)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
