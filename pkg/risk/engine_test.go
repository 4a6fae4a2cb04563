package risk

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blogpress/authguard/pkg/audit"
	"github.com/blogpress/authguard/pkg/device"
	"github.com/blogpress/authguard/pkg/geoip"
)

type engineFixture struct {
	engine  *Engine
	events  *audit.InMemEventRepository
	devices *device.DeviceService
	geo     *geoip.StaticResolver
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	events := audit.NewInMemEventRepository()
	devices := device.NewDeviceService(device.NewInMemTrustRepository(), audit.NewService(events))
	geo := geoip.NewStaticResolver()
	return &engineFixture{
		engine:  NewEngine(events, devices, geo, DefaultThresholds()),
		events:  events,
		devices: devices,
		geo:     geo,
	}
}

func (f *engineFixture) appendEvent(t *testing.T, event audit.Event, at time.Time) {
	t.Helper()
	event.ID = uuid.New()
	event.CreatedAt = at
	require.NoError(t, f.events.AppendEvent(context.Background(), event))
}

func TestAssessEmptyHistoryIsNeutral(t *testing.T) {
	f := newEngineFixture(t)

	assessment, err := f.engine.Assess(context.Background(), Input{
		UserID:      uuid.New(),
		IP:          "203.0.113.10",
		Fingerprint: "fp-1",
	})
	require.NoError(t, err)

	// Baseline 25 plus untrusted device 10.
	assert.Equal(t, 35, assessment.Score)
	assert.Equal(t, RecommendTwoFactor, assessment.Recommendation)
}

func TestAssessTrustedDeviceWithHistoryAllows(t *testing.T) {
	f := newEngineFixture(t)
	userID := uuid.New()
	now := time.Now().UTC()

	f.appendEvent(t, audit.Event{UserID: userID, Type: audit.EventVerificationSuccess}, now.Add(-24*time.Hour))

	_, err := f.devices.Trust(context.Background(), device.TrustRequest{
		UserID:      userID,
		Fingerprint: "fp-1",
	})
	require.NoError(t, err)

	assessment, err := f.engine.Assess(context.Background(), Input{
		UserID:      userID,
		IP:          "203.0.113.10",
		Fingerprint: "fp-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, assessment.Score)
	assert.Equal(t, RecommendAllow, assessment.Recommendation)
}

func TestAssessRecentFailuresAreBounded(t *testing.T) {
	f := newEngineFixture(t)
	userID := uuid.New()
	now := time.Now().UTC()

	f.appendEvent(t, audit.Event{UserID: userID, Type: audit.EventVerificationSuccess}, now.Add(-24*time.Hour))
	for i := 0; i < 20; i++ {
		f.appendEvent(t, audit.Event{
			UserID: userID,
			Type:   audit.EventVerificationFailure,
			IP:     "198.51.100.7",
		}, now.Add(-time.Duration(i+1)*time.Second))
	}

	assessment, err := f.engine.Assess(context.Background(), Input{
		UserID:      userID,
		IP:          "198.51.100.7",
		Fingerprint: "fp-1",
	})
	require.NoError(t, err)

	var failureWeight int
	for _, factor := range assessment.Factors {
		if factor.Name == "recent_failures" {
			failureWeight = factor.Weight
		}
	}
	assert.Equal(t, 30, failureWeight, "failure weight must be capped")
}

func TestAssessPreResolvedLocation(t *testing.T) {
	f := newEngineFixture(t)
	userID := uuid.New()
	now := time.Now().UTC()

	f.appendEvent(t, audit.Event{
		UserID: userID, Type: audit.EventVerificationSuccess, Country: "DE",
	}, now.Add(-24*time.Hour))

	// The resolver knows nothing about this address; the caller supplies
	// the lookup it already performed.
	assessment, err := f.engine.Assess(context.Background(), Input{
		UserID:      userID,
		IP:          "203.0.113.10",
		Fingerprint: "fp-1",
		Location:    &geoip.Location{Country: "BR", IsTor: true, Known: true},
	})
	require.NoError(t, err)

	names := make([]string, 0, len(assessment.Factors))
	for _, factor := range assessment.Factors {
		names = append(names, factor.Name)
	}
	assert.Contains(t, names, "tor_exit")
	assert.Contains(t, names, "new_country")
}

func TestAssessTorAndNewCountry(t *testing.T) {
	f := newEngineFixture(t)
	userID := uuid.New()
	now := time.Now().UTC()

	f.appendEvent(t, audit.Event{
		UserID: userID, Type: audit.EventVerificationSuccess, Country: "DE",
	}, now.Add(-24*time.Hour))

	require.NoError(t, f.geo.Add("185.220.100.0/24", geoip.Location{Country: "RO", IsTor: true}))

	assessment, err := f.engine.Assess(context.Background(), Input{
		UserID:      userID,
		IP:          "185.220.100.42",
		Fingerprint: "fp-unknown",
	})
	require.NoError(t, err)

	// Untrusted 10 + tor 25 + new country 20.
	assert.Equal(t, 55, assessment.Score)
	assert.Equal(t, RecommendTwoFactor, assessment.Recommendation)
}

func TestAssessImpossibleTravel(t *testing.T) {
	f := newEngineFixture(t)
	userID := uuid.New()
	now := time.Now().UTC()

	// Success in Berlin an hour ago, attempt now from Sydney.
	f.appendEvent(t, audit.Event{
		UserID: userID, Type: audit.EventVerificationSuccess,
		Country: "DE", Latitude: 52.52, Longitude: 13.40,
	}, now.Add(-time.Hour))

	require.NoError(t, f.geo.Add("203.2.218.0/24", geoip.Location{
		Country: "AU", Latitude: -33.87, Longitude: 151.21,
	}))

	assessment, err := f.engine.Assess(context.Background(), Input{
		UserID:      userID,
		IP:          "203.2.218.9",
		Fingerprint: "fp-unknown",
		At:          now,
	})
	require.NoError(t, err)

	var names []string
	for _, factor := range assessment.Factors {
		names = append(names, factor.Name)
	}
	assert.Contains(t, names, "impossible_travel")
	assert.Contains(t, names, "new_country")
}

func TestAssessScoreIsCapped(t *testing.T) {
	f := newEngineFixture(t)
	userID := uuid.New()
	now := time.Now().UTC()

	f.appendEvent(t, audit.Event{
		UserID: userID, Type: audit.EventVerificationSuccess,
		Country: "DE", Latitude: 52.52, Longitude: 13.40,
	}, now.Add(-time.Hour))
	f.appendEvent(t, audit.Event{UserID: userID, Type: audit.EventReplayDetected}, now.Add(-30*time.Minute))
	for i := 0; i < 10; i++ {
		f.appendEvent(t, audit.Event{
			UserID: userID,
			Type:   audit.EventVerificationFailure,
			IP:     "203.2.218.9",
		}, now.Add(-time.Duration(i+1)*time.Second))
	}
	require.NoError(t, f.geo.Add("203.2.218.0/24", geoip.Location{
		Country: "AU", Latitude: -33.87, Longitude: 151.21, IsTor: true,
	}))

	assessment, err := f.engine.Assess(context.Background(), Input{
		UserID:      userID,
		IP:          "203.2.218.9",
		Fingerprint: "fp-unknown",
		At:          now,
	})
	require.NoError(t, err)
	assert.Equal(t, 100, assessment.Score)
	assert.Equal(t, RecommendBlock, assessment.Recommendation)
}

func TestRecommendationThresholds(t *testing.T) {
	engine := NewEngine(nil, nil, nil, DefaultThresholds())

	tests := []struct {
		score int
		want  Recommendation
	}{
		{score: 0, want: RecommendAllow},
		{score: 29, want: RecommendAllow},
		{score: 30, want: RecommendTwoFactor},
		{score: 59, want: RecommendTwoFactor},
		{score: 60, want: RecommendTwoFactorAndReview},
		{score: 85, want: RecommendTwoFactorAndReview},
		{score: 86, want: RecommendBlock},
		{score: 100, want: RecommendBlock},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, engine.recommend(tt.score), "score %d", tt.score)
	}
}
