package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/blogpress/authguard/pkg/errors"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresTrustRepository implements TrustRepository using PostgreSQL
type PostgresTrustRepository struct {
	db DBTX
}

func NewPostgresTrustRepository(db DBTX) *PostgresTrustRepository {
	return &PostgresTrustRepository{db: db}
}

func (r *PostgresTrustRepository) CreateTrust(ctx context.Context, trust TrustedDevice) (TrustedDevice, error) {
	if trust.ID == uuid.Nil {
		trust.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO trusted_device (
			id, user_id, fingerprint, user_agent, network, session_id, trusted_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`,
		trust.ID,
		trust.UserID,
		trust.Fingerprint,
		trust.UserAgent,
		trust.Network,
		trust.SessionID,
		trust.TrustedAt,
		trust.ExpiresAt,
	)
	if err != nil {
		return TrustedDevice{}, fmt.Errorf("failed to create device trust: %w", err)
	}
	return trust, nil
}

func (r *PostgresTrustRepository) FindTrustByFingerprint(ctx context.Context, userID uuid.UUID, fingerprint string) (*TrustedDevice, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, fingerprint, user_agent, network, session_id, trusted_at, expires_at, revoked_at
		FROM trusted_device
		WHERE user_id = $1 AND fingerprint = $2
		ORDER BY trusted_at DESC
		LIMIT 1
	`, userID, fingerprint)

	trust, err := scanTrust(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find device trust: %w", err)
	}
	return &trust, nil
}

func (r *PostgresTrustRepository) FindTrustsByUser(ctx context.Context, userID uuid.UUID) ([]TrustedDevice, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, fingerprint, user_agent, network, session_id, trusted_at, expires_at, revoked_at
		FROM trusted_device
		WHERE user_id = $1
		ORDER BY trusted_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find device trusts: %w", err)
	}
	defer rows.Close()

	var result []TrustedDevice
	for rows.Next() {
		trust, err := scanTrust(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device trust: %w", err)
		}
		result = append(result, trust)
	}
	return result, rows.Err()
}

func (r *PostgresTrustRepository) RevokeTrust(ctx context.Context, userID, trustID uuid.UUID, revokedAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE trusted_device SET revoked_at = $3
		WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL
	`, trustID, userID, revokedAt)
	if err != nil {
		return fmt.Errorf("failed to revoke device trust: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("device trust", trustID.String())
	}
	return nil
}

func (r *PostgresTrustRepository) RevokeAllTrusts(ctx context.Context, userID uuid.UUID, revokedAt time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE trusted_device SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, revokedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke device trusts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresTrustRepository) ExtendTrustExpiry(ctx context.Context, trustID uuid.UUID, newExpiry time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE trusted_device SET expires_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, trustID, newExpiry)
	if err != nil {
		return fmt.Errorf("failed to extend device trust: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("device trust", trustID.String())
	}
	return nil
}

// WithTx returns a repository bound to the given pgx transaction.
func (r *PostgresTrustRepository) WithTx(tx interface{}) TrustRepository {
	if pgxTx, ok := tx.(pgx.Tx); ok {
		return &PostgresTrustRepository{db: pgxTx}
	}
	return r
}

func scanTrust(row pgx.Row) (TrustedDevice, error) {
	var trust TrustedDevice
	var sessionID sql.NullString
	var revokedAt sql.NullTime
	err := row.Scan(
		&trust.ID,
		&trust.UserID,
		&trust.Fingerprint,
		&trust.UserAgent,
		&trust.Network,
		&sessionID,
		&trust.TrustedAt,
		&trust.ExpiresAt,
		&revokedAt,
	)
	if err != nil {
		return TrustedDevice{}, err
	}
	trust.SessionID = sessionID.String
	if revokedAt.Valid {
		t := revokedAt.Time
		trust.RevokedAt = &t
	}
	return trust, nil
}
