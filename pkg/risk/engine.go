package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/blogpress/authguard/pkg/audit"
	"github.com/blogpress/authguard/pkg/device"
	"github.com/blogpress/authguard/pkg/geoip"
)

// Recommendation is the engine's advice. The engine only recommends; the
// verification flow decides.
type Recommendation string

const (
	RecommendAllow              Recommendation = "allow"
	RecommendTwoFactor          Recommendation = "require_two_factor"
	RecommendTwoFactorAndReview Recommendation = "require_two_factor_and_review"
	RecommendBlock              Recommendation = "block"
)

// Thresholds are the score cut-offs between recommendations.
type Thresholds struct {
	TwoFactor int // at or above: require a second factor
	Review    int // at or above: additionally flag for review
	Block     int // above: block outright
}

func DefaultThresholds() Thresholds {
	return Thresholds{TwoFactor: 30, Review: 60, Block: 85}
}

// Factor weights. Each signal contributes a bounded amount; the sum is
// capped at 100 so no single signal saturates the score alone.
const (
	weightPerRecentFailure = 8
	maxFailureWeight       = 30
	weightUntrustedDevice  = 10
	weightNewCountry       = 20
	weightImpossibleTravel = 25
	weightVPNOrProxy       = 10
	weightTor              = 25
	weightReplayHistory    = 30
	neutralBaseline        = 25

	failureLookback    = 15 * time.Minute
	historyLookbackDay = 30
	historyLimit       = 500

	implausibleSpeedKmh = 900.0
)

// Input is the request context being scored.
type Input struct {
	UserID      uuid.UUID
	IP          string
	UserAgent   string
	Fingerprint string
	At          time.Time
	// Location is an already-resolved lookup for IP. Nil means the engine
	// resolves the address itself.
	Location *geoip.Location
}

// Factor is one scored signal.
type Factor struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
	Detail string `json:"detail,omitempty"`
}

// Assessment is the scored result.
type Assessment struct {
	Score          int            `json:"score"`
	Factors        []Factor       `json:"factors"`
	Recommendation Recommendation `json:"recommendation"`
}

// Engine scores verification attempts from audit history, device trust, and
// IP reputation. Reads may be slightly stale; scoring never writes.
type Engine struct {
	events     audit.EventRepository
	devices    *device.DeviceService
	geo        geoip.Resolver
	thresholds Thresholds
}

func NewEngine(events audit.EventRepository, devices *device.DeviceService, geo geoip.Resolver, thresholds Thresholds) *Engine {
	return &Engine{
		events:     events,
		devices:    devices,
		geo:        geo,
		thresholds: thresholds,
	}
}

// Assess scores the attempt. Missing geo data degrades to neutral rather
// than raising the score, and a user with no history scores the neutral
// baseline so new accounts are neither waved through nor blocked.
func (e *Engine) Assess(ctx context.Context, in Input) (Assessment, error) {
	at := in.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	history, err := e.events.FindRecentByUser(ctx, in.UserID, at.AddDate(0, 0, -historyLookbackDay), historyLimit)
	if err != nil {
		return Assessment{}, fmt.Errorf("failed to load risk history: %w", err)
	}

	var factors []Factor

	if len(history) == 0 {
		factors = append(factors, Factor{
			Name:   "no_history",
			Weight: neutralBaseline,
			Detail: "no prior activity in window",
		})
	}

	failures, err := e.events.CountFailuresByIPSince(ctx, in.IP, at.Add(-failureLookback))
	if err != nil {
		return Assessment{}, fmt.Errorf("failed to count recent failures: %w", err)
	}
	if failures > 0 {
		weight := failures * weightPerRecentFailure
		if weight > maxFailureWeight {
			weight = maxFailureWeight
		}
		factors = append(factors, Factor{
			Name:   "recent_failures",
			Weight: weight,
			Detail: fmt.Sprintf("%d failures from this address in %s", failures, failureLookback),
		})
	}

	trusted, err := e.devices.IsTrusted(ctx, in.UserID, in.Fingerprint, at)
	if err != nil {
		return Assessment{}, fmt.Errorf("failed to check device trust: %w", err)
	}
	if !trusted {
		factors = append(factors, Factor{
			Name:   "untrusted_device",
			Weight: weightUntrustedDevice,
		})
	}

	var loc geoip.Location
	if in.Location != nil {
		loc = *in.Location
	} else {
		loc, err = e.geo.Resolve(ctx, in.IP)
		if err != nil {
			// Lookup failure degrades to neutral, never to suspicious.
			slog.Warn("geo lookup failed, scoring without location", "ip", in.IP, "err", err)
			loc = geoip.Location{}
		}
	}
	if loc.Known {
		factors = append(factors, e.locationFactors(loc, history, at)...)
	}

	if replays := countReplayHistory(history); replays > 0 {
		factors = append(factors, Factor{
			Name:   "replay_history",
			Weight: weightReplayHistory,
			Detail: fmt.Sprintf("%d replay or clone signals in window", replays),
		})
	}

	score := 0
	for _, f := range factors {
		score += f.Weight
	}
	if score > 100 {
		score = 100
	}

	return Assessment{
		Score:          score,
		Factors:        factors,
		Recommendation: e.recommend(score),
	}, nil
}

func (e *Engine) locationFactors(loc geoip.Location, history []audit.Event, at time.Time) []Factor {
	var factors []Factor

	if loc.IsTor {
		factors = append(factors, Factor{Name: "tor_exit", Weight: weightTor})
	} else if loc.IsVPN || loc.IsProxy {
		factors = append(factors, Factor{Name: "vpn_or_proxy", Weight: weightVPNOrProxy})
	}

	if len(history) > 0 && loc.Country != "" {
		seen := false
		for _, event := range history {
			if event.Country == loc.Country {
				seen = true
				break
			}
		}
		if !seen {
			factors = append(factors, Factor{
				Name:   "new_country",
				Weight: weightNewCountry,
				Detail: loc.Country,
			})
		}
	}

	if last := lastSuccessWithCoords(history); last != nil {
		elapsed := at.Sub(last.CreatedAt)
		if elapsed > 0 {
			distance := geoip.DistanceKm(last.Latitude, last.Longitude, loc.Latitude, loc.Longitude)
			if distance/elapsed.Hours() > implausibleSpeedKmh {
				factors = append(factors, Factor{
					Name:   "impossible_travel",
					Weight: weightImpossibleTravel,
					Detail: fmt.Sprintf("%.0f km since last success %s ago", distance, elapsed.Round(time.Minute)),
				})
			}
		}
	}

	return factors
}

func (e *Engine) recommend(score int) Recommendation {
	switch {
	case score > e.thresholds.Block:
		return RecommendBlock
	case score >= e.thresholds.Review:
		return RecommendTwoFactorAndReview
	case score >= e.thresholds.TwoFactor:
		return RecommendTwoFactor
	default:
		return RecommendAllow
	}
}

// lastSuccessWithCoords returns the newest successful event carrying
// coordinates. History arrives newest first.
func lastSuccessWithCoords(history []audit.Event) *audit.Event {
	for i := range history {
		e := history[i]
		if e.Success() && (e.Latitude != 0 || e.Longitude != 0) {
			return &e
		}
	}
	return nil
}

func countReplayHistory(history []audit.Event) int {
	count := 0
	for _, e := range history {
		if e.Type == audit.EventReplayDetected || e.Type == audit.EventCredentialDisabled {
			count++
		}
	}
	return count
}
