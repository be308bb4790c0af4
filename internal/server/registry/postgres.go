package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/dbx"
	"github.com/dmitrijs2005/gophdrop/internal/server/migrations"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const sessionColumns = `upload_id, conversation_id, owner_id, file_name, file_size, file_type,
	total_chunks, state, created_at, expires_at, external_upload_id, external_key`

// liveFilter hides sessions whose TTL elapsed; its parameter is "now".
const liveFilter = `(expires_at IS NULL OR expires_at > $%d)`

// unclaimedFilter also keeps overdue rows that ClaimExpired will never take,
// so Delete and CancelExpiryTimer can still reach them.
const unclaimedFilter = `(state NOT IN ('` + string(models.StateCreated) + `', '` +
	string(models.StateAwaitingParts) + `') OR ` + liveFilter + `)`

// PostgresRegistry keeps sessions in the upload_sessions table so that every
// replica sees the same state.
type PostgresRegistry struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRegistry wraps an open pgx-backed *sql.DB.
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db, now: time.Now}
}

// OpenPostgres opens a pgx connection pool and verifies it.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema migrations.
func (r *PostgresRegistry) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, r.db, ".")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.UploadSession, error) {
	var (
		s         models.UploadSession
		state     string
		expiresAt sql.NullTime
		extID     sql.NullString
		extKey    sql.NullString
	)
	err := row.Scan(&s.UploadID, &s.ConversationID, &s.OwnerID, &s.FileName, &s.FileSize, &s.FileType,
		&s.TotalChunks, &state, &s.CreatedAt, &expiresAt, &extID, &extKey)
	if err != nil {
		return nil, err
	}
	s.State = models.State(state)
	if expiresAt.Valid {
		s.ExpiresAt = expiresAt.Time
	}
	s.ExternalUploadID = extID.String
	s.ExternalKey = extKey.String
	return &s, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRegistry) Create(ctx context.Context, s *models.UploadSession) error {
	query := `INSERT INTO upload_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (upload_id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, s.UploadID, s.ConversationID, s.OwnerID, s.FileName, s.FileSize,
		s.FileType, s.TotalChunks, string(s.State), s.CreatedAt, nullTime(s.ExpiresAt),
		nullString(s.ExternalUploadID), nullString(s.ExternalKey))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}

	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrAlreadyExists
	}
	return nil
}

func (r *PostgresRegistry) Get(ctx context.Context, id string) (*models.UploadSession, bool, error) {
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions
		WHERE upload_id = $1 AND ` + fmt.Sprintf(liveFilter, 2)

	s, err := scanSession(r.db.QueryRowContext(ctx, query, id, r.now()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to select session: %w", err)
	}
	return s, true, nil
}

func (r *PostgresRegistry) AttachExternalInfo(ctx context.Context, id, externalUploadID, externalKey string) (bool, error) {
	query := `UPDATE upload_sessions
		SET external_upload_id = $2, external_key = $3, state = $4
		WHERE upload_id = $1 AND external_upload_id IS NULL AND state = $5 AND ` + fmt.Sprintf(liveFilter, 6)

	res, err := r.db.ExecContext(ctx, query, id, externalUploadID, externalKey,
		string(models.StateAwaitingParts), string(models.StateCreated), r.now())
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return affectedOne(res)
}

func (r *PostgresRegistry) TransitionState(ctx context.Context, id string, from, to models.State) (bool, error) {
	query := `UPDATE upload_sessions SET state = $3
		WHERE upload_id = $1 AND state = $2 AND ` + fmt.Sprintf(liveFilter, 4)

	res, err := r.db.ExecContext(ctx, query, id, string(from), string(to), r.now())
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return affectedOne(res)
}

func (r *PostgresRegistry) Delete(ctx context.Context, id string) (bool, error) {
	return deleteSession(ctx, r.db, id, r.now())
}

func deleteSession(ctx context.Context, db dbx.DBTX, id string, now time.Time) (bool, error) {
	query := `DELETE FROM upload_sessions WHERE upload_id = $1 AND ` + fmt.Sprintf(unclaimedFilter, 2)

	res, err := db.ExecContext(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return affectedOne(res)
}

func (r *PostgresRegistry) Exists(ctx context.Context, id string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM upload_sessions WHERE upload_id = $1 AND ` + fmt.Sprintf(liveFilter, 2) + `)`

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, id, r.now()).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (r *PostgresRegistry) Count(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM upload_sessions WHERE ` + fmt.Sprintf(liveFilter, 1)

	var n int
	if err := r.db.QueryRowContext(ctx, query, r.now()).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRegistry) List(ctx context.Context) ([]string, error) {
	query := `SELECT upload_id FROM upload_sessions WHERE ` + fmt.Sprintf(liveFilter, 1) + ` ORDER BY upload_id`

	rows, err := r.db.QueryContext(ctx, query, r.now())
	if err != nil {
		return nil, fmt.Errorf("failed to select sessions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PostgresRegistry) ScheduleExpiry(ctx context.Context, id string, ttl time.Duration) error {
	now := r.now()
	query := `UPDATE upload_sessions SET expires_at = $2 WHERE upload_id = $1 AND ` + fmt.Sprintf(liveFilter, 3)

	if _, err := r.db.ExecContext(ctx, query, id, now.Add(ttl), now); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRegistry) CancelExpiryTimer(ctx context.Context, id string) error {
	query := `UPDATE upload_sessions SET expires_at = NULL WHERE upload_id = $1 AND ` + fmt.Sprintf(unclaimedFilter, 2)

	if _, err := r.db.ExecContext(ctx, query, id, r.now()); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ClaimExpired locks due rows with SKIP LOCKED so concurrent reapers on other
// replicas pick disjoint sets, then deletes them in the same transaction.
func (r *PostgresRegistry) ClaimExpired(ctx context.Context, now time.Time, limit int) ([]*models.UploadSession, error) {
	if limit <= 0 {
		limit = 100
	}

	var claimed []*models.UploadSession

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		query := `SELECT ` + sessionColumns + ` FROM upload_sessions
			WHERE expires_at IS NOT NULL AND expires_at <= $1 AND state IN ($2, $3)
			ORDER BY expires_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED`

		rows, err := tx.QueryContext(ctx, query, now,
			string(models.StateCreated), string(models.StateAwaitingParts), limit)
		if err != nil {
			return fmt.Errorf("failed to select expired sessions: %w", err)
		}

		var due []*models.UploadSession
		for rows.Next() {
			s, err := scanSession(rows)
			if err != nil {
				rows.Close()
				return err
			}
			due = append(due, s)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, s := range due {
			res, err := tx.ExecContext(ctx, `DELETE FROM upload_sessions WHERE upload_id = $1`, s.UploadID)
			if err != nil {
				return fmt.Errorf("failed to delete session: %w", err)
			}
			ok, err := affectedOne(res)
			if err != nil {
				return err
			}
			if ok {
				claimed = append(claimed, s)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
