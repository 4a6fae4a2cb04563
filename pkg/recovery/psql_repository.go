package recovery

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresCodeRepository implements CodeRepository using PostgreSQL
type PostgresCodeRepository struct {
	db DBTX
}

func NewPostgresCodeRepository(db DBTX) *PostgresCodeRepository {
	return &PostgresCodeRepository{db: db}
}

func (r *PostgresCodeRepository) ReplaceBatch(ctx context.Context, userID uuid.UUID, codes []Code) error {
	// Consumed rows stay behind as replay tombstones.
	_, err := r.db.Exec(ctx, `
		DELETE FROM recovery_code WHERE user_id = $1 AND used_at IS NULL
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to invalidate previous batch: %w", err)
	}

	for _, code := range codes {
		_, err := r.db.Exec(ctx, `
			INSERT INTO recovery_code (id, user_id, code_hash, created_at)
			VALUES ($1, $2, $3, $4)
		`, code.ID, code.UserID, code.Hash, code.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert recovery code: %w", err)
		}
	}
	return nil
}

func (r *PostgresCodeRepository) FindCodes(ctx context.Context, userID uuid.UUID) ([]Code, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, code_hash, created_at, used_at
		FROM recovery_code
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find recovery codes: %w", err)
	}
	defer rows.Close()

	var result []Code
	for rows.Next() {
		var code Code
		var usedAt sql.NullTime
		if err := rows.Scan(&code.ID, &code.UserID, &code.Hash, &code.CreatedAt, &usedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recovery code: %w", err)
		}
		if usedAt.Valid {
			t := usedAt.Time
			code.UsedAt = &t
		}
		result = append(result, code)
	}
	return result, rows.Err()
}

// ConsumeCode is the at-most-once consume: the WHERE clause only matches an
// unused code, so concurrent consumers race on RowsAffected.
func (r *PostgresCodeRepository) ConsumeCode(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE recovery_code SET used_at = $2 WHERE id = $1 AND used_at IS NULL
	`, id, usedAt)
	if err != nil {
		return false, fmt.Errorf("failed to consume recovery code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresCodeRepository) CountRemaining(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM recovery_code WHERE user_id = $1 AND used_at IS NULL
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recovery codes: %w", err)
	}
	return count, nil
}

// WithTx returns a repository bound to the given pgx transaction.
func (r *PostgresCodeRepository) WithTx(tx interface{}) CodeRepository {
	if pgxTx, ok := tx.(pgx.Tx); ok {
		return &PostgresCodeRepository{db: pgxTx}
	}
	return r
}
