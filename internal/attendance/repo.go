package attendance

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// Repository persists attendance records in Postgres. It implements Archive.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save upserts rec keyed by (student_id, attend_date).
func (r *Repository) Save(ctx context.Context, rec Record) error {
	if rec.ID == "" || rec.StudentID == "" {
		return errors.New("record id and student id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, student_name, course, section, attend_date,
			check_in, check_out, status, location, verified_by, sms_sent, sms_sent_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (student_id, attend_date) DO UPDATE SET
			check_out = EXCLUDED.check_out,
			sms_sent = EXCLUDED.sms_sent,
			sms_sent_at = EXCLUDED.sms_sent_at,
			updated_at = NOW()
	`, rec.ID, rec.StudentID, rec.StudentName, rec.Course, rec.Section, rec.Date,
		rec.CheckIn, rec.CheckOut, string(rec.Status), rec.Location, rec.VerifiedBy, rec.SMSSent, rec.SMSSentAt)
	return errors.Wrap(err, "save attendance record")
}

// Since returns records checked in at or after since, newest first.
func (r *Repository) Since(ctx context.Context, since time.Time) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, student_id, student_name, course, section, to_char(attend_date, 'YYYY-MM-DD'),
			check_in, check_out, status, location, verified_by, sms_sent, sms_sent_at
		FROM attendance_records
		WHERE check_in >= $1
		ORDER BY check_in DESC
	`, since)
	if err != nil {
		return nil, errors.Wrap(err, "query attendance records")
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var (
			rec      Record
			status   string
			checkOut sql.NullTime
			smsAt    sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.StudentName, &rec.Course, &rec.Section, &rec.Date,
			&rec.CheckIn, &checkOut, &status, &rec.Location, &rec.VerifiedBy, &rec.SMSSent, &smsAt); err != nil {
			return nil, errors.Wrap(err, "scan attendance record")
		}
		rec.Status = Status(status)
		if checkOut.Valid {
			t := checkOut.Time
			rec.CheckOut = &t
		}
		if smsAt.Valid {
			t := smsAt.Time
			rec.SMSSentAt = &t
		}
		res = append(res, rec)
	}
	return res, errors.Wrap(rows.Err(), "iterate attendance records")
}
