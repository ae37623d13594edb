package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"dovakin0007.com/private-notes/internal/auth"
	"dovakin0007.com/private-notes/internal/models"
	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const (
	driverName = "postgres"

	// callerRole is the unprivileged role every scoped statement runs as.
	callerRole = "authenticated"

	setRequestSQL = `SELECT set_config('request.jwt.claims', $1, true), set_config('request.headers', $2, true)`
	setRoleSQL    = `SET LOCAL ROLE ` + callerRole
)

const ddl = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

DO $$
BEGIN
    IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = 'authenticated') THEN
        CREATE ROLE authenticated NOLOGIN;
    END IF;
    EXECUTE format('GRANT authenticated TO %I', current_user);
END
$$;

CREATE TABLE IF NOT EXISTS notes (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id     UUID NOT NULL,
    title       TEXT NOT NULL CHECK (length(btrim(title)) > 0),
    content     TEXT NOT NULL CHECK (length(btrim(content)) > 0),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_notes_user_created ON notes (user_id, created_at DESC);

GRANT SELECT, INSERT, UPDATE, DELETE ON notes TO authenticated;

CREATE OR REPLACE FUNCTION notes_caller_id() RETURNS UUID
LANGUAGE sql STABLE AS $$
    SELECT NULLIF(current_setting('request.jwt.claims', true)::json ->> 'sub', '')::uuid
$$;

ALTER TABLE notes ENABLE ROW LEVEL SECURITY;
ALTER TABLE notes FORCE ROW LEVEL SECURITY;

DROP POLICY IF EXISTS notes_select_own ON notes;
CREATE POLICY notes_select_own ON notes FOR SELECT TO authenticated
    USING (user_id = notes_caller_id());

DROP POLICY IF EXISTS notes_insert_own ON notes;
CREATE POLICY notes_insert_own ON notes FOR INSERT TO authenticated
    WITH CHECK (user_id = notes_caller_id());

DROP POLICY IF EXISTS notes_update_own ON notes;
CREATE POLICY notes_update_own ON notes FOR UPDATE TO authenticated
    USING (user_id = notes_caller_id())
    WITH CHECK (user_id = notes_caller_id());

DROP POLICY IF EXISTS notes_delete_own ON notes;
CREATE POLICY notes_delete_own ON notes FOR DELETE TO authenticated
    USING (user_id = notes_caller_id());
`

var (
	noteColumns    = []string{"id", "user_id", "title", "content", "created_at"}
	summaryColumns = []string{"id", "title", "created_at"}
)

// Database is the postgres driver. The pool is shared; everything that
// identifies the caller lives in the scoped client built per request.
type Database struct {
	Db      *sqlx.DB
	AnonKey string
}

func Connect(ctx context.Context, cfg Config) (*Database, error) {
	db, err := sqlx.ConnectContext(ctx, driverName, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	d := &Database{Db: db, AnonKey: cfg.AnonKey}
	if cfg.Migrate {
		if err := d.migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return d, nil
}

func (d *Database) migrate(ctx context.Context) error {
	if _, err := d.Db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	if d.Db != nil {
		return d.Db.Close()
	}
	return nil
}

type jwtClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type requestHeaders struct {
	Authorization string `json:"authorization"`
	APIKey        string `json:"apikey"`
}

// ForRequest returns a client that runs every statement as the caller:
// inside a transaction carrying the caller's claims and forwarded
// Authorization header, under the unprivileged role, so the row policies
// see the caller rather than the pool's login.
func (d *Database) ForRequest(r *http.Request) (NotesStore, error) {
	authz, err := callerAuthorization(r)
	if err != nil {
		return nil, err
	}
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return nil, errors.New("no authenticated user on request")
	}

	claims, err := json.Marshal(jwtClaims{Sub: user.ID, Email: user.Email, Role: callerRole})
	if err != nil {
		return nil, err
	}
	headers, err := json.Marshal(requestHeaders{Authorization: authz, APIKey: d.AnonKey})
	if err != nil {
		return nil, err
	}
	return &scopedDatabase{db: d.Db, claims: string(claims), headers: string(headers)}, nil
}

type scopedDatabase struct {
	db      *sqlx.DB
	claims  string
	headers string
}

func (s *scopedDatabase) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapPQ(err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, setRequestSQL, s.claims, s.headers); err != nil {
		return wrapPQ(err)
	}
	if _, err := tx.ExecContext(ctx, setRoleSQL); err != nil {
		return wrapPQ(err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return wrapPQ(tx.Commit())
}

func (s *scopedDatabase) ListNotes(ctx context.Context, userID string) ([]models.NoteSummary, error) {
	query, args, err := psql.Select(summaryColumns...).
		From("notes").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}

	notes := make([]models.NoteSummary, 0)
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		return wrapPQ(tx.SelectContext(ctx, &notes, query, args...))
	})
	if err != nil {
		return nil, err
	}
	return notes, nil
}

func (s *scopedDatabase) ViewNote(ctx context.Context, userID, noteID string) (*models.Note, error) {
	query, args, err := psql.Select(noteColumns...).
		From("notes").
		Where(sq.And{sq.Eq{"id": noteID}, sq.Eq{"user_id": userID}}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building view query: %w", err)
	}

	var n models.Note
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &n, query, args...); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNoteNotFound
			}
			return wrapPQ(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *scopedDatabase) CreateNote(ctx context.Context, in models.CreateNoteInput) (*models.Note, error) {
	query, args, err := psql.Insert("notes").
		Columns("user_id", "title", "content").
		Values(in.UserID, in.Title, in.Content).
		Suffix("RETURNING id, title, content, created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert: %w", err)
	}

	var n models.Note
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		return wrapPQ(tx.GetContext(ctx, &n, query, args...))
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *scopedDatabase) UpdateNote(ctx context.Context, in models.UpdateNoteInput) (*models.Note, error) {
	query, args, err := psql.Update("notes").
		Set("title", in.Title).
		Set("content", in.Content).
		Where(sq.And{sq.Eq{"id": in.NoteID}, sq.Eq{"user_id": in.UserID}}).
		Suffix("RETURNING id, user_id, title, content, created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building update: %w", err)
	}

	var n models.Note
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &n, query, args...); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNoteNotFound
			}
			return wrapPQ(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// DeleteNote reports whether a row matched id and owner.
func (s *scopedDatabase) DeleteNote(ctx context.Context, userID, noteID string) (bool, error) {
	query, args, err := psql.Delete("notes").
		Where(sq.And{sq.Eq{"id": noteID}, sq.Eq{"user_id": userID}}).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building delete: %w", err)
	}

	deleted := false
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		var id string
		if err := tx.GetContext(ctx, &id, query, args...); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return wrapPQ(err)
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func wrapPQ(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &UpstreamError{Message: pqErr.Message, Code: string(pqErr.Code)}
	}
	return err
}
