package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendtrack/internal/clock"
	"attendtrack/internal/directory"
)

func TestMemoryKVExpiry(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 9, 2, 8, 0, 0, 0, time.UTC))
	kv := NewMemoryKV(clk)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "attendance_user:a", `{"id":"1"}`, time.Hour))
	require.NoError(t, kv.Set(ctx, "forever", "x", 0))

	val, ok, err := kv.Get(ctx, "attendance_user:a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"id":"1"}`, val)

	clk.Advance(time.Hour)
	_, ok, err = kv.Get(ctx, "attendance_user:a")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = kv.Get(ctx, "forever")
	assert.True(t, ok)

	require.NoError(t, kv.Delete(ctx, "forever"))
	_, ok, _ = kv.Get(ctx, "forever")
	assert.False(t, ok)
}

func TestDuplicateStudent(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		field string
		want  error
	}{
		{
			name:  "card",
			err:   errors.Wrap(&pgconn.PgError{Code: "23505", ConstraintName: "students_rfid_key"}, "insert"),
			field: "rfidCardId",
			want:  directory.ErrDuplicateCard,
		},
		{
			name:  "student id",
			err:   &pgconn.PgError{Code: "23505", ConstraintName: "students_student_id_key"},
			field: "studentId",
			want:  directory.ErrDuplicateStudentID,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := duplicateStudent(tc.err)
			var regErr *directory.RegistrationError
			require.True(t, errors.As(got, &regErr))
			assert.Equal(t, tc.field, regErr.Field)
			assert.True(t, errors.Is(got, tc.want))
		})
	}

	assert.Nil(t, duplicateStudent(&pgconn.PgError{Code: "23503"}))
	assert.Nil(t, duplicateStudent(errors.New("connection reset")))
}
