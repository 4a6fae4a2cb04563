package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/blogpress/authguard/pkg/geoip"
)

const (
	// Anomaly detection looks at a bounded window: the newer of the last
	// 30 days and the last 500 events.
	anomalyWindowDays  = 30
	anomalyWindowLimit = 500

	// A failure burst is this many failures inside the burst interval.
	burstThreshold = 10
	burstInterval  = 5 * time.Minute

	// Two successes closer in time than geography allows flag as
	// geographically incompatible activity.
	implausibleSpeedKmh = 900.0
)

// Service records audit events and runs bounded-window anomaly detection
// over them.
type Service struct {
	repository EventRepository
}

func NewService(repository EventRepository) *Service {
	return &Service{repository: repository}
}

// Record appends one event, filling in id and timestamp when unset. Audit
// failures are surfaced to the caller; the verification flow decides whether
// to proceed without the record.
func (s *Service) Record(ctx context.Context, event Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if err := s.repository.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	if event.Severity == SeverityCritical {
		slog.Warn("critical audit event", "type", event.Type, "userID", event.UserID, "ip", event.IP)
	}
	return nil
}

// AnomalyKind classifies a detected anomaly.
type AnomalyKind string

const (
	AnomalyFailureBurst        AnomalyKind = "failure_burst"
	AnomalyNewCountry          AnomalyKind = "new_country_login"
	AnomalyIncompatibleTravel  AnomalyKind = "incompatible_concurrent_activity"
)

// Anomaly is one finding from DetectAnomalies.
type Anomaly struct {
	Kind        AnomalyKind `json:"kind"`
	Description string      `json:"description"`
	EventIDs    []uuid.UUID `json:"event_ids"`
}

// DetectAnomalies scans the user's bounded event window for failure bursts,
// first-time countries, and geographically incompatible concurrent activity.
func (s *Service) DetectAnomalies(ctx context.Context, userID uuid.UUID) ([]Anomaly, error) {
	since := time.Now().UTC().AddDate(0, 0, -anomalyWindowDays)
	events, err := s.repository.FindRecentByUser(ctx, userID, since, anomalyWindowLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit window: %w", err)
	}

	var anomalies []Anomaly
	if a := detectFailureBurst(events); a != nil {
		anomalies = append(anomalies, *a)
	}
	anomalies = append(anomalies, detectNewCountry(events)...)
	anomalies = append(anomalies, detectIncompatibleTravel(events)...)
	return anomalies, nil
}

// Report returns the user's events between from and to, newest first.
func (s *Service) Report(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]Event, error) {
	events, err := s.repository.FindRecentByUser(ctx, userID, from, anomalyWindowLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit events: %w", err)
	}
	var result []Event
	for _, e := range events {
		if !e.CreatedAt.After(to) {
			result = append(result, e)
		}
	}
	return result, nil
}

// ExportJSON streams the user's events in the range as a JSON array.
func (s *Service) ExportJSON(ctx context.Context, w io.Writer, userID uuid.UUID, from, to time.Time) error {
	events, err := s.Report(ctx, userID, from, to)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		return fmt.Errorf("failed to encode audit export: %w", err)
	}
	return nil
}

// PurgeOlderThan applies the retention policy.
func (s *Service) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	count, err := s.repository.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}
	slog.Info("purged audit events", "cutoff", cutoff.Format(time.RFC3339), "count", count)
	return count, nil
}

// detectFailureBurst finds burstThreshold failures inside burstInterval.
// Events arrive newest first.
func detectFailureBurst(events []Event) *Anomaly {
	var failures []Event
	for _, e := range events {
		if e.Failure() {
			failures = append(failures, e)
		}
	}
	for i := 0; i+burstThreshold-1 < len(failures); i++ {
		newest := failures[i]
		oldest := failures[i+burstThreshold-1]
		if newest.CreatedAt.Sub(oldest.CreatedAt) <= burstInterval {
			ids := make([]uuid.UUID, 0, burstThreshold)
			for _, e := range failures[i : i+burstThreshold] {
				ids = append(ids, e.ID)
			}
			return &Anomaly{
				Kind:        AnomalyFailureBurst,
				Description: fmt.Sprintf("%d failed verifications within %s", burstThreshold, burstInterval),
				EventIDs:    ids,
			}
		}
	}
	return nil
}

// detectNewCountry flags successes from a country not seen earlier in the
// window. Events arrive newest first, so "earlier" means further down the
// slice. The oldest event in the window has no baseline and is never
// flagged.
func detectNewCountry(events []Event) []Anomaly {
	var anomalies []Anomaly
	for i, e := range events {
		if !e.Success() || e.Country == "" {
			continue
		}
		if i == len(events)-1 {
			continue
		}
		seenBefore := false
		for _, prior := range events[i+1:] {
			if prior.Country == e.Country {
				seenBefore = true
				break
			}
		}
		if !seenBefore {
			anomalies = append(anomalies, Anomaly{
				Kind:        AnomalyNewCountry,
				Description: fmt.Sprintf("first activity from country %s in window", e.Country),
				EventIDs:    []uuid.UUID{e.ID},
			})
		}
	}
	return anomalies
}

// detectIncompatibleTravel flags consecutive successes whose implied travel
// speed exceeds what is physically plausible.
func detectIncompatibleTravel(events []Event) []Anomaly {
	var successes []Event
	for _, e := range events {
		if e.Success() && (e.Latitude != 0 || e.Longitude != 0) {
			successes = append(successes, e)
		}
	}

	var anomalies []Anomaly
	for i := 0; i+1 < len(successes); i++ {
		newer := successes[i]
		older := successes[i+1]
		elapsed := newer.CreatedAt.Sub(older.CreatedAt)
		if elapsed <= 0 {
			elapsed = time.Second
		}
		distance := geoip.DistanceKm(older.Latitude, older.Longitude, newer.Latitude, newer.Longitude)
		speed := distance / elapsed.Hours()
		if speed > implausibleSpeedKmh {
			anomalies = append(anomalies, Anomaly{
				Kind:        AnomalyIncompatibleTravel,
				Description: fmt.Sprintf("implied travel speed %.0f km/h between sign-ins", speed),
				EventIDs:    []uuid.UUID{older.ID, newer.ID},
			})
		}
	}
	return anomalies
}
