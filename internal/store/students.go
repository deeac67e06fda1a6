package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"attendtrack/internal/directory"
)

// StudentRepository persists students in Postgres. It serves as the
// directory's system of record when DIRECTORY_BACKEND=postgres.
type StudentRepository struct {
	db *sql.DB
}

// NewStudentRepository creates a repo.
func NewStudentRepository(db *sql.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = `id, student_id, rfid, name, guardian_name, parent_phone, student_phone, email,
	course, section, year_level, photo_url, registered_by, is_active, created_at`

// ListStudents returns every student ordered by student id.
func (r *StudentRepository) ListStudents(ctx context.Context) ([]directory.Student, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+studentColumns+` FROM students ORDER BY student_id`)
	if err != nil {
		return nil, errors.Wrap(err, "list students")
	}
	defer rows.Close()

	var out []directory.Student
	for rows.Next() {
		var s directory.Student
		if err := rows.Scan(&s.ID, &s.StudentID, &s.CardID, &s.FullName, &s.GuardianName, &s.GuardianPhone,
			&s.StudentPhone, &s.Email, &s.Course, &s.Section, &s.YearLevel, &s.PhotoURL, &s.RegisteredBy,
			&s.Active, &s.RegisteredAt); err != nil {
			return nil, errors.Wrap(err, "scan student")
		}
		out = append(out, s)
	}
	return out, errors.Wrap(rows.Err(), "iterate students")
}

// CreateStudent inserts s. Unique violations on the card or student id map
// to a *directory.RegistrationError.
func (r *StudentRepository) CreateStudent(ctx context.Context, s directory.Student) (directory.Student, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, student_id, rfid, name, guardian_name, parent_phone, student_phone, email,
			course, section, year_level, photo_url, registered_by, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at
	`, s.ID, s.StudentID, s.CardID, s.FullName, s.GuardianName, s.GuardianPhone, s.StudentPhone, s.Email,
		s.Course, s.Section, s.YearLevel, s.PhotoURL, s.RegisteredBy, s.Active, s.RegisteredAt)
	if err := row.Scan(&s.RegisteredAt); err != nil {
		if regErr := duplicateStudent(err); regErr != nil {
			return directory.Student{}, regErr
		}
		return directory.Student{}, errors.Wrap(err, "insert student")
	}
	return s, nil
}

// SetPhoto stores a photo URL for a student.
func (r *StudentRepository) SetPhoto(ctx context.Context, studentID, url string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE students SET photo_url = $2 WHERE student_id = $1`, studentID, url)
	return errors.Wrap(err, "update student photo")
}

func duplicateStudent(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	if strings.Contains(pgErr.ConstraintName, "rfid") {
		return &directory.RegistrationError{Field: "rfidCardId", Reason: directory.ErrDuplicateCard.Error(), Err: directory.ErrDuplicateCard}
	}
	return &directory.RegistrationError{Field: "studentId", Reason: directory.ErrDuplicateStudentID.Error(), Err: directory.ErrDuplicateStudentID}
}
