package passkey

import (
	"context"
	"database/sql"
	"encoding/json"
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

// PostgresCredentialRepository implements CredentialRepository using
// PostgreSQL. The webauthn.Credential is stored as JSONB except for the
// sign counter, which lives in its own column so the compare-and-set
// UPDATE can target it.
type PostgresCredentialRepository struct {
	db DBTX
}

func NewPostgresCredentialRepository(db DBTX) *PostgresCredentialRepository {
	return &PostgresCredentialRepository{db: db}
}

func (r *PostgresCredentialRepository) CreateCredential(ctx context.Context, credential Credential) (Credential, error) {
	if credential.ID == uuid.Nil {
		credential.ID = uuid.New()
	}
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(credential.Credential)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to marshal credential: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO hardware_key_credential (
			id, user_id, credential_id, name, sign_count, credential, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`,
		credential.ID,
		credential.UserID,
		credential.Credential.ID,
		utils.ToNullString(credential.Name),
		credential.Credential.Authenticator.SignCount,
		payload,
		credential.CreatedAt,
	)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to create credential: %w", err)
	}
	return credential, nil
}

func (r *PostgresCredentialRepository) FindCredentialsByUser(ctx context.Context, userID uuid.UUID) ([]Credential, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, name, sign_count, credential, created_at, last_used_at, disabled_at
		FROM hardware_key_credential
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find credentials: %w", err)
	}
	defer rows.Close()

	var result []Credential
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		result = append(result, credential)
	}
	return result, rows.Err()
}

func (r *PostgresCredentialRepository) FindCredentialByCredentialID(ctx context.Context, credentialID []byte) (Credential, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, name, sign_count, credential, created_at, last_used_at, disabled_at
		FROM hardware_key_credential
		WHERE credential_id = $1
	`, credentialID)
	credential, err := scanCredential(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Credential{}, errors.NotFound("credential", "by credential id")
		}
		return Credential{}, fmt.Errorf("failed to find credential: %w", err)
	}
	return credential, nil
}

// UpdateSignCount is the compare-and-set: only the row still holding the old
// counter advances. The JSONB copy of the counter is kept in step.
func (r *PostgresCredentialRepository) UpdateSignCount(ctx context.Context, id uuid.UUID, old, new uint32, usedAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE hardware_key_credential
		SET sign_count = $3,
		    credential = jsonb_set(credential, '{authenticator,signCount}', to_jsonb($3::bigint)),
		    last_used_at = $4
		WHERE id = $1 AND sign_count = $2 AND disabled_at IS NULL
	`, id, old, new, usedAt)
	if err != nil {
		return false, fmt.Errorf("failed to update sign count: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresCredentialRepository) DisableCredential(ctx context.Context, id uuid.UUID, disabledAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE hardware_key_credential SET disabled_at = $2
		WHERE id = $1 AND disabled_at IS NULL
	`, id, disabledAt)
	if err != nil {
		return fmt.Errorf("failed to disable credential: %w", err)
	}
	return nil
}

// WithTx returns a repository bound to the given pgx transaction.
func (r *PostgresCredentialRepository) WithTx(tx interface{}) CredentialRepository {
	if pgxTx, ok := tx.(pgx.Tx); ok {
		return &PostgresCredentialRepository{db: pgxTx}
	}
	return r
}

func scanCredential(row pgx.Row) (Credential, error) {
	var (
		credential Credential
		name       sql.NullString
		signCount  int64
		payload    []byte
		lastUsedAt sql.NullTime
		disabledAt sql.NullTime
	)
	err := row.Scan(
		&credential.ID,
		&credential.UserID,
		&name,
		&signCount,
		&payload,
		&credential.CreatedAt,
		&lastUsedAt,
		&disabledAt,
	)
	if err != nil {
		return Credential{}, err
	}
	if err := json.Unmarshal(payload, &credential.Credential); err != nil {
		return Credential{}, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	credential.Name = name.String
	credential.Credential.Authenticator.SignCount = uint32(signCount)
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		credential.LastUsedAt = &t
	}
	if disabledAt.Valid {
		t := disabledAt.Time
		credential.DisabledAt = &t
	}
	return credential, nil
}
