package mfa

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/blogpress/authguard/pkg/errors"
	"github.com/blogpress/authguard/pkg/utils"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresEnrollmentRepository implements EnrollmentRepository using PostgreSQL
type PostgresEnrollmentRepository struct {
	db DBTX
}

func NewPostgresEnrollmentRepository(db DBTX) *PostgresEnrollmentRepository {
	return &PostgresEnrollmentRepository{db: db}
}

func (r *PostgresEnrollmentRepository) CreateEnrollment(ctx context.Context, enrollment Enrollment) (Enrollment, error) {
	if enrollment.ID == uuid.Nil {
		enrollment.ID = uuid.New()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	destination, material := methodColumns(enrollment.Method)

	query := `
		INSERT INTO mfa_enrollment (
			id, user_id, kind, destination, material, display_name, enrolled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`
	_, err := r.db.Exec(ctx, query,
		enrollment.ID,
		enrollment.UserID,
		string(enrollment.Method.Kind()),
		utils.ToNullString(destination),
		material,
		utils.ToNullString(enrollment.DisplayName),
		enrollment.EnrolledAt,
	)
	if err != nil {
		return Enrollment{}, fmt.Errorf("failed to create enrollment: %w", err)
	}
	return enrollment, nil
}

func (r *PostgresEnrollmentRepository) GetEnrollment(ctx context.Context, id uuid.UUID) (Enrollment, error) {
	query := `
		SELECT id, user_id, kind, destination, material, display_name, enrolled_at, confirmed_at, disabled_at
		FROM mfa_enrollment
		WHERE id = $1
	`
	row := r.db.QueryRow(ctx, query, id)
	enrollment, err := scanEnrollment(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Enrollment{}, errors.NotFound("enrollment", id.String())
		}
		return Enrollment{}, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return enrollment, nil
}

func (r *PostgresEnrollmentRepository) FindEnrollmentsByUser(ctx context.Context, userID uuid.UUID) ([]Enrollment, error) {
	query := `
		SELECT id, user_id, kind, destination, material, display_name, enrolled_at, confirmed_at, disabled_at
		FROM mfa_enrollment
		WHERE user_id = $1
		ORDER BY enrolled_at
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find enrollments: %w", err)
	}
	defer rows.Close()

	var result []Enrollment
	for rows.Next() {
		enrollment, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		result = append(result, enrollment)
	}
	return result, rows.Err()
}

func (r *PostgresEnrollmentRepository) ConfirmEnrollment(ctx context.Context, id uuid.UUID, confirmedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE mfa_enrollment SET confirmed_at = $2 WHERE id = $1 AND confirmed_at IS NULL
	`, id, confirmedAt)
	if err != nil {
		return fmt.Errorf("failed to confirm enrollment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("enrollment", id.String())
	}
	return nil
}

func (r *PostgresEnrollmentRepository) DisableEnrollment(ctx context.Context, id uuid.UUID, disabledAt time.Time) error {
	// The material column is cleared so disabled secrets do not linger at
	// rest; the row itself stays for display and history.
	tag, err := r.db.Exec(ctx, `
		UPDATE mfa_enrollment SET disabled_at = $2, material = '' WHERE id = $1 AND disabled_at IS NULL
	`, id, disabledAt)
	if err != nil {
		return fmt.Errorf("failed to disable enrollment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("enrollment", id.String())
	}
	return nil
}

func (r *PostgresEnrollmentRepository) GetTwoFactorForced(ctx context.Context, userID uuid.UUID) (bool, error) {
	var forced bool
	err := r.db.QueryRow(ctx, `
		SELECT two_factor_forced FROM mfa_policy WHERE user_id = $1
	`, userID).Scan(&forced)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to get policy: %w", err)
	}
	return forced, nil
}

func (r *PostgresEnrollmentRepository) SetTwoFactorForced(ctx context.Context, userID uuid.UUID, forced bool) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO mfa_policy (user_id, two_factor_forced)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET two_factor_forced = EXCLUDED.two_factor_forced
	`, userID, forced)
	if err != nil {
		return fmt.Errorf("failed to set policy: %w", err)
	}
	return nil
}

// WithTx returns a repository bound to the given pgx transaction.
func (r *PostgresEnrollmentRepository) WithTx(tx interface{}) EnrollmentRepository {
	if pgxTx, ok := tx.(pgx.Tx); ok {
		return &PostgresEnrollmentRepository{db: pgxTx}
	}
	return r
}

func scanEnrollment(row pgx.Row) (Enrollment, error) {
	var (
		enrollment  Enrollment
		kind        string
		destination sql.NullString
		material    string
		displayName sql.NullString
		confirmedAt sql.NullTime
		disabledAt  sql.NullTime
	)
	err := row.Scan(
		&enrollment.ID,
		&enrollment.UserID,
		&kind,
		&destination,
		&material,
		&displayName,
		&enrollment.EnrolledAt,
		&confirmedAt,
		&disabledAt,
	)
	if err != nil {
		return Enrollment{}, err
	}
	method, err := newMethod(Kind(kind), destination.String, material)
	if err != nil {
		return Enrollment{}, err
	}
	enrollment.Method = method
	enrollment.DisplayName = displayName.String
	if confirmedAt.Valid {
		t := confirmedAt.Time
		enrollment.ConfirmedAt = &t
	}
	if disabledAt.Valid {
		t := disabledAt.Time
		enrollment.DisabledAt = &t
	}
	return enrollment, nil
}
