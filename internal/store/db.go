package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB opens a Postgres pool and pings it. The returned DB is usable even
// when the ping fails so callers can decide whether to degrade.
func NewDB(ctx context.Context, connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return &DB{Client: db}, errors.Wrap(err, "ping postgres")
	}
	return &DB{Client: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS students (
	id             TEXT PRIMARY KEY,
	student_id     TEXT NOT NULL UNIQUE,
	rfid           TEXT NOT NULL UNIQUE,
	name           TEXT NOT NULL,
	guardian_name  TEXT NOT NULL DEFAULT '',
	parent_phone   TEXT NOT NULL DEFAULT '',
	student_phone  TEXT NOT NULL DEFAULT '',
	email          TEXT NOT NULL DEFAULT '',
	course         TEXT NOT NULL DEFAULT '',
	section        TEXT NOT NULL DEFAULT '',
	year_level     INT  NOT NULL DEFAULT 1,
	photo_url      TEXT NOT NULL DEFAULT '',
	registered_by  TEXT NOT NULL DEFAULT '',
	is_active      BOOLEAN NOT NULL DEFAULT TRUE,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS attendance_records (
	id             TEXT PRIMARY KEY,
	student_id     TEXT NOT NULL,
	student_name   TEXT NOT NULL DEFAULT '',
	course         TEXT NOT NULL DEFAULT '',
	section        TEXT NOT NULL DEFAULT '',
	attend_date    DATE NOT NULL,
	check_in       TIMESTAMPTZ NOT NULL,
	check_out      TIMESTAMPTZ,
	status         TEXT NOT NULL,
	location       TEXT NOT NULL DEFAULT '',
	verified_by    TEXT NOT NULL DEFAULT '',
	sms_sent       BOOLEAN NOT NULL DEFAULT FALSE,
	sms_sent_at    TIMESTAMPTZ,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (student_id, attend_date)
);

CREATE INDEX IF NOT EXISTS attendance_records_check_in_idx ON attendance_records (check_in DESC);
`

// Migrate creates the tables used by the student repository and the
// attendance archive.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.Client.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "migrate schema")
	}
	return nil
}

// Healthy verifies postgres connectivity.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
