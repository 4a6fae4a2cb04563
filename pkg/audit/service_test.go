package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordAt(t *testing.T, service *Service, event Event, at time.Time) Event {
	t.Helper()
	event.ID = uuid.New()
	event.CreatedAt = at
	require.NoError(t, service.Record(context.Background(), event))
	return event
}

func TestRecordFillsDefaults(t *testing.T) {
	repo := NewInMemEventRepository()
	service := NewService(repo)
	userID := uuid.New()

	err := service.Record(context.Background(), Event{
		UserID: userID,
		Type:   EventVerificationSuccess,
	})
	require.NoError(t, err)

	events, err := repo.FindRecentByUser(context.Background(), userID, time.Now().UTC().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEqual(t, uuid.Nil, events[0].ID)
	assert.False(t, events[0].CreatedAt.IsZero())
	assert.Equal(t, SeverityInfo, events[0].Severity)
}

func TestDetectFailureBurst(t *testing.T) {
	service := NewService(NewInMemEventRepository())
	userID := uuid.New()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 10; i++ {
		recordAt(t, service, Event{
			UserID: userID,
			Type:   EventVerificationFailure,
		}, base.Add(time.Duration(i)*20*time.Second))
	}

	anomalies, err := service.DetectAnomalies(context.Background(), userID)
	require.NoError(t, err)

	var kinds []AnomalyKind
	for _, a := range anomalies {
		kinds = append(kinds, a.Kind)
	}
	assert.Contains(t, kinds, AnomalyFailureBurst)
}

func TestNoBurstWhenFailuresSpreadOut(t *testing.T) {
	service := NewService(NewInMemEventRepository())
	userID := uuid.New()
	base := time.Now().UTC().Add(-24 * time.Hour)

	for i := 0; i < 10; i++ {
		recordAt(t, service, Event{
			UserID: userID,
			Type:   EventVerificationFailure,
		}, base.Add(time.Duration(i)*time.Hour))
	}

	anomalies, err := service.DetectAnomalies(context.Background(), userID)
	require.NoError(t, err)
	for _, a := range anomalies {
		assert.NotEqual(t, AnomalyFailureBurst, a.Kind)
	}
}

func TestDetectNewCountry(t *testing.T) {
	service := NewService(NewInMemEventRepository())
	userID := uuid.New()
	base := time.Now().UTC().Add(-48 * time.Hour)

	recordAt(t, service, Event{UserID: userID, Type: EventVerificationSuccess, Country: "DE"}, base)
	recordAt(t, service, Event{UserID: userID, Type: EventVerificationSuccess, Country: "DE"}, base.Add(time.Hour))
	recordAt(t, service, Event{UserID: userID, Type: EventVerificationSuccess, Country: "BR"}, base.Add(2*time.Hour))

	anomalies, err := service.DetectAnomalies(context.Background(), userID)
	require.NoError(t, err)

	found := 0
	for _, a := range anomalies {
		if a.Kind == AnomalyNewCountry {
			found++
			assert.Contains(t, a.Description, "BR")
		}
	}
	// Only BR is new; the oldest event has no baseline and is never flagged.
	assert.Equal(t, 1, found)
}

func TestDetectIncompatibleTravel(t *testing.T) {
	service := NewService(NewInMemEventRepository())
	userID := uuid.New()
	base := time.Now().UTC().Add(-3 * time.Hour)

	// Berlin, then Sydney one hour later.
	recordAt(t, service, Event{
		UserID: userID, Type: EventVerificationSuccess,
		Country: "DE", Latitude: 52.52, Longitude: 13.40,
	}, base)
	recordAt(t, service, Event{
		UserID: userID, Type: EventVerificationSuccess,
		Country: "AU", Latitude: -33.87, Longitude: 151.21,
	}, base.Add(time.Hour))

	anomalies, err := service.DetectAnomalies(context.Background(), userID)
	require.NoError(t, err)

	var kinds []AnomalyKind
	for _, a := range anomalies {
		kinds = append(kinds, a.Kind)
	}
	assert.Contains(t, kinds, AnomalyIncompatibleTravel)
}

func TestPlausibleTravelNotFlagged(t *testing.T) {
	service := NewService(NewInMemEventRepository())
	userID := uuid.New()
	base := time.Now().UTC().Add(-72 * time.Hour)

	// Berlin, then Sydney two days later.
	recordAt(t, service, Event{
		UserID: userID, Type: EventVerificationSuccess,
		Country: "DE", Latitude: 52.52, Longitude: 13.40,
	}, base)
	recordAt(t, service, Event{
		UserID: userID, Type: EventVerificationSuccess,
		Country: "AU", Latitude: -33.87, Longitude: 151.21,
	}, base.Add(48*time.Hour))

	anomalies, err := service.DetectAnomalies(context.Background(), userID)
	require.NoError(t, err)
	for _, a := range anomalies {
		assert.NotEqual(t, AnomalyIncompatibleTravel, a.Kind)
	}
}

func TestAnomalyWindowIsBounded(t *testing.T) {
	repo := NewInMemEventRepository()
	service := NewService(repo)
	userID := uuid.New()

	// A burst outside the 30-day window must not surface.
	old := time.Now().UTC().AddDate(0, 0, -40)
	for i := 0; i < 10; i++ {
		recordAt(t, service, Event{
			UserID: userID,
			Type:   EventVerificationFailure,
		}, old.Add(time.Duration(i)*10*time.Second))
	}

	anomalies, err := service.DetectAnomalies(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}

func TestPurgeOlderThan(t *testing.T) {
	repo := NewInMemEventRepository()
	service := NewService(repo)
	userID := uuid.New()
	now := time.Now().UTC()

	recordAt(t, service, Event{UserID: userID, Type: EventVerificationSuccess}, now.AddDate(0, 0, -100))
	recordAt(t, service, Event{UserID: userID, Type: EventVerificationSuccess}, now.AddDate(0, 0, -1))

	purged, err := service.PurgeOlderThan(context.Background(), now.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	events, err := repo.FindRecentByUser(context.Background(), userID, now.AddDate(0, 0, -365), 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestExportJSON(t *testing.T) {
	service := NewService(NewInMemEventRepository())
	userID := uuid.New()
	now := time.Now().UTC()

	recordAt(t, service, Event{UserID: userID, Type: EventVerificationSuccess, Method: "totp"}, now.Add(-time.Hour))

	var buf bytes.Buffer
	err := service.ExportJSON(context.Background(), &buf, userID, now.Add(-2*time.Hour), now)
	require.NoError(t, err)

	var exported []Event
	require.NoError(t, json.Unmarshal(buf.Bytes(), &exported))
	require.Len(t, exported, 1)
	assert.Equal(t, "totp", exported[0].Method)
}
