package directory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRemote is a process-local Remote used when no backend is configured
// and in tests.
type MemoryRemote struct {
	mu       sync.Mutex
	students []Student
	// FailList and FailCreate force transport failures.
	FailList   error
	FailCreate error
}

// NewMemoryRemote returns a remote holding students.
func NewMemoryRemote(students ...Student) *MemoryRemote {
	return &MemoryRemote{students: append([]Student(nil), students...)}
}

func (m *MemoryRemote) ListStudents(ctx context.Context) ([]Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailList != nil {
		return nil, m.FailList
	}
	return append([]Student(nil), m.students...), nil
}

func (m *MemoryRemote) CreateStudent(ctx context.Context, s Student) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate != nil {
		return Student{}, m.FailCreate
	}
	for _, cur := range m.students {
		if cur.CardID == s.CardID {
			return Student{}, &RegistrationError{Field: "rfidCardId", Reason: ErrDuplicateCard.Error(), Err: ErrDuplicateCard}
		}
		if cur.StudentID == s.StudentID {
			return Student{}, &RegistrationError{Field: "studentId", Reason: ErrDuplicateStudentID.Error(), Err: ErrDuplicateStudentID}
		}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.students = append(m.students, s)
	return s, nil
}

// SampleStudents is the demo roster used by the in-memory directory.
func SampleStudents() []Student {
	return []Student{
		{
			ID:            "1",
			StudentID:     "2024-0001",
			FullName:      "Maria Santos",
			CardID:        "RFID-001-ABC",
			GuardianName:  "Juan Santos",
			GuardianPhone: "+639171234567",
			Course:        "Computer Science",
			Section:       "A",
			YearLevel:     2,
			RegisteredAt:  time.Date(2024, 8, 15, 0, 0, 0, 0, time.UTC),
			RegisteredBy:  "admin",
			Active:        true,
		},
		{
			ID:            "2",
			StudentID:     "2024-0002",
			FullName:      "Carlos Reyes",
			CardID:        "RFID-002-DEF",
			GuardianName:  "Ana Reyes",
			GuardianPhone: "+639189876543",
			Course:        "Information Technology",
			Section:       "B",
			YearLevel:     1,
			RegisteredAt:  time.Date(2024, 8, 16, 0, 0, 0, 0, time.UTC),
			RegisteredBy:  "admin",
			Active:        true,
		},
		{
			ID:            "3",
			StudentID:     "2024-0003",
			FullName:      "Elena Cruz",
			CardID:        "RFID-003-GHI",
			GuardianName:  "Roberto Cruz",
			GuardianPhone: "+639195551234",
			Course:        "Computer Science",
			Section:       "A",
			YearLevel:     3,
			RegisteredAt:  time.Date(2024, 8, 17, 0, 0, 0, 0, time.UTC),
			RegisteredBy:  "admin",
			Active:        true,
		},
	}
}
