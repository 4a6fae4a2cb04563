package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/blogpress/authguard/pkg/utils"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresEventRepository implements EventRepository using PostgreSQL.
// The table has no UPDATE path; retention purge is the only DELETE.
type PostgresEventRepository struct {
	db DBTX
}

func NewPostgresEventRepository(db DBTX) *PostgresEventRepository {
	return &PostgresEventRepository{db: db}
}

func (r *PostgresEventRepository) AppendEvent(ctx context.Context, event Event) error {
	var details []byte
	if event.Details != nil {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal event details: %w", err)
		}
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_event (
			id, user_id, event_type, severity, method, ip, country,
			latitude, longitude, fingerprint, details, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`,
		event.ID,
		event.UserID,
		string(event.Type),
		string(event.Severity),
		utils.ToNullString(event.Method),
		utils.ToNullString(event.IP),
		utils.ToNullString(event.Country),
		event.Latitude,
		event.Longitude,
		utils.ToNullString(event.Fingerprint),
		details,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func (r *PostgresEventRepository) FindRecentByUser(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]Event, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, event_type, severity, method, ip, country,
		       latitude, longitude, fingerprint, details, created_at
		FROM audit_event
		WHERE user_id = $1 AND created_at > $2
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find audit events: %w", err)
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		result = append(result, event)
	}
	return result, rows.Err()
}

func (r *PostgresEventRepository) CountFailuresByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM audit_event
		WHERE user_id = $1 AND created_at > $2 AND event_type IN ($3, $4)
	`, userID, since, string(EventVerificationFailure), string(EventReplayDetected)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failures: %w", err)
	}
	return count, nil
}

func (r *PostgresEventRepository) CountFailuresByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM audit_event
		WHERE ip = $1 AND created_at > $2 AND event_type IN ($3, $4)
	`, ip, since, string(EventVerificationFailure), string(EventReplayDetected)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count failures: %w", err)
	}
	return count, nil
}

func (r *PostgresEventRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM audit_event WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// WithTx returns a repository bound to the given pgx transaction.
func (r *PostgresEventRepository) WithTx(tx interface{}) EventRepository {
	if pgxTx, ok := tx.(pgx.Tx); ok {
		return &PostgresEventRepository{db: pgxTx}
	}
	return r
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		event       Event
		eventType   string
		severity    string
		method      sql.NullString
		ip          sql.NullString
		country     sql.NullString
		fingerprint sql.NullString
		details     []byte
	)
	err := row.Scan(
		&event.ID,
		&event.UserID,
		&eventType,
		&severity,
		&method,
		&ip,
		&country,
		&event.Latitude,
		&event.Longitude,
		&fingerprint,
		&details,
		&event.CreatedAt,
	)
	if err != nil {
		return Event{}, err
	}
	event.Type = EventType(eventType)
	event.Severity = Severity(severity)
	event.Method = method.String
	event.IP = ip.String
	event.Country = country.String
	event.Fingerprint = fingerprint.String
	if len(details) > 0 {
		if err := json.Unmarshal(details, &event.Details); err != nil {
			return Event{}, fmt.Errorf("failed to unmarshal event details: %w", err)
		}
	}
	return event, nil
}
