package directory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"attendtrack/internal/clock"
)

var (
	// ErrDirectoryUnavailable means the remote student list could not be
	// fetched; the previous cache contents are kept.
	ErrDirectoryUnavailable = errors.New("directory unavailable")
	ErrDuplicateCard        = errors.New("this RFID card is already registered")
	ErrDuplicateStudentID   = errors.New("this Student ID is already registered")
)

// Student is a registered student keyed by RFID card id.
type Student struct {
	ID            string    `json:"id"`
	StudentID     string    `json:"student_id"`
	FullName      string    `json:"full_name"`
	CardID        string    `json:"rfid_card_id"`
	GuardianName  string    `json:"guardian_name"`
	GuardianPhone string    `json:"guardian_phone"`
	StudentPhone  string    `json:"student_phone,omitempty"`
	Email         string    `json:"email,omitempty"`
	Course        string    `json:"course,omitempty"`
	Section       string    `json:"section,omitempty"`
	YearLevel     int       `json:"year_level,omitempty"`
	PhotoURL      string    `json:"photo_url,omitempty"`
	RegisteredAt  time.Time `json:"registered_at"`
	RegisteredBy  string    `json:"registered_by,omitempty"`
	Active        bool      `json:"is_active"`
}

// RegistrationError reports why Register rejected a student.
type RegistrationError struct {
	// Field names the offending form field when the failure is tied to one.
	Field  string
	Reason string
	Err    error
}

func (e *RegistrationError) Error() string {
	return "registration failed: " + e.Reason
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// Remote is the system of record for students.
type Remote interface {
	ListStudents(ctx context.Context) ([]Student, error)
	CreateStudent(ctx context.Context, s Student) (Student, error)
}

// Cache maps card ids to students, with a student id index for reverse
// lookups.
type Cache struct {
	mu          sync.RWMutex
	byCard      map[string]Student
	byStudentID map[string]string
	remote      Remote
	clock       clock.Clock
	log         *logrus.Entry
	onChange    func(size int)
}

// New creates an empty cache backed by remote.
func New(remote Remote, clk clock.Clock, log *logrus.Entry) *Cache {
	return &Cache{
		byCard:      make(map[string]Student),
		byStudentID: make(map[string]string),
		remote:      remote,
		clock:       clk,
		log:         log,
	}
}

// OnChange registers a callback invoked with the new size after every
// mutation.
func (c *Cache) OnChange(fn func(size int)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Lookup resolves a card id.
func (c *Cache) Lookup(cardID string) (Student, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byCard[cardID]
	return s, ok
}

// LookupStudent resolves a student id through the secondary index.
func (c *Cache) LookupStudent(studentID string) (Student, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	card, ok := c.byStudentID[studentID]
	if !ok {
		return Student{}, false
	}
	s, ok := c.byCard[card]
	return s, ok
}

// HasCard reports whether cardID is registered.
func (c *Cache) HasCard(cardID string) bool {
	_, ok := c.Lookup(cardID)
	return ok
}

// HasStudentID reports whether studentID is registered.
func (c *Cache) HasStudentID(studentID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byStudentID[studentID]
	return ok
}

// Size returns the number of registered students.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byCard)
}

// List returns students matching query (case-insensitive substring of name,
// student id, card id or course), ordered by student id.
func (c *Cache) List(query string) []Student {
	q := strings.ToLower(strings.TrimSpace(query))

	c.mu.RLock()
	out := make([]Student, 0, len(c.byCard))
	for _, s := range c.byCard {
		if q == "" ||
			strings.Contains(strings.ToLower(s.FullName), q) ||
			strings.Contains(strings.ToLower(s.StudentID), q) ||
			strings.Contains(strings.ToLower(s.CardID), q) ||
			strings.Contains(strings.ToLower(s.Course), q) {
			out = append(out, s)
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

// Seed inserts students without contacting the remote. Later entries win on
// conflicting card or student ids.
func (c *Cache) Seed(students ...Student) {
	c.mu.Lock()
	for _, s := range students {
		c.insertLocked(s)
	}
	size, fn := len(c.byCard), c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(size)
	}
}

// LoadAll replaces the whole cache with the remote student list. On failure
// the previous contents are kept and the error wraps ErrDirectoryUnavailable.
func (c *Cache) LoadAll(ctx context.Context) error {
	students, err := c.remote.ListStudents(ctx)
	if err != nil {
		c.log.WithError(err).Warn("directory fetch failed, keeping cached students")
		return errors.Wrapf(ErrDirectoryUnavailable, "%v", err)
	}

	byCard := make(map[string]Student, len(students))
	byStudentID := make(map[string]string, len(students))
	for _, s := range students {
		if s.CardID == "" {
			c.log.WithField("student_id", s.StudentID).Warn("skipping student without card id")
			continue
		}
		if prev, ok := byCard[s.CardID]; ok && prev.StudentID != s.StudentID {
			c.log.WithFields(logrus.Fields{"card_id": s.CardID, "student_id": s.StudentID, "kept": prev.StudentID}).
				Warn("skipping student with duplicate card id")
			continue
		}
		insert(byCard, byStudentID, s)
	}

	c.mu.Lock()
	c.byCard = byCard
	c.byStudentID = byStudentID
	size, fn := len(c.byCard), c.onChange
	c.mu.Unlock()

	c.log.WithField("students", size).Info("directory loaded")
	if fn != nil {
		fn(size)
	}
	return nil
}

// Register creates the student remotely and, only after the remote accepts
// it, inserts it into the cache. Any failure returns a *RegistrationError and
// leaves the cache unchanged.
func (c *Cache) Register(ctx context.Context, s Student) (Student, error) {
	s.CardID = strings.TrimSpace(s.CardID)
	s.StudentID = strings.TrimSpace(s.StudentID)

	if c.HasCard(s.CardID) {
		return Student{}, &RegistrationError{Field: "rfidCardId", Reason: ErrDuplicateCard.Error(), Err: ErrDuplicateCard}
	}
	if c.HasStudentID(s.StudentID) {
		return Student{}, &RegistrationError{Field: "studentId", Reason: ErrDuplicateStudentID.Error(), Err: ErrDuplicateStudentID}
	}

	if s.RegisteredAt.IsZero() {
		s.RegisteredAt = c.clock.Now()
	}
	s.Active = true

	created, err := c.remote.CreateStudent(ctx, s)
	if err != nil {
		var regErr *RegistrationError
		if errors.As(err, &regErr) {
			return Student{}, regErr
		}
		return Student{}, &RegistrationError{Reason: err.Error(), Err: err}
	}

	stored := s
	if created.ID != "" {
		stored.ID = created.ID
	}
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if !created.RegisteredAt.IsZero() {
		stored.RegisteredAt = created.RegisteredAt
	}

	c.mu.Lock()
	// a concurrent registration may have won the race for the same keys
	if _, dup := c.byCard[stored.CardID]; dup {
		c.mu.Unlock()
		return Student{}, &RegistrationError{Field: "rfidCardId", Reason: ErrDuplicateCard.Error(), Err: ErrDuplicateCard}
	}
	if _, dup := c.byStudentID[stored.StudentID]; dup {
		c.mu.Unlock()
		return Student{}, &RegistrationError{Field: "studentId", Reason: ErrDuplicateStudentID.Error(), Err: ErrDuplicateStudentID}
	}
	c.insertLocked(stored)
	size, fn := len(c.byCard), c.onChange
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"student_id": stored.StudentID, "card_id": stored.CardID}).Info("student registered")
	if fn != nil {
		fn(size)
	}
	return stored, nil
}

// SetPhoto records a photo URL for a student.
func (c *Cache) SetPhoto(studentID, url string) (Student, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	card, ok := c.byStudentID[studentID]
	if !ok {
		return Student{}, false
	}
	s := c.byCard[card]
	s.PhotoURL = url
	c.byCard[card] = s
	return s, true
}

func (c *Cache) insertLocked(s Student) {
	insert(c.byCard, c.byStudentID, s)
}

// insert adds s to both indexes, evicting any entry that shares its card
// id or student id so the indexes stay in step.
func insert(byCard map[string]Student, byStudentID map[string]string, s Student) {
	if prevCard, ok := byStudentID[s.StudentID]; ok && prevCard != s.CardID {
		delete(byCard, prevCard)
	}
	if prev, ok := byCard[s.CardID]; ok && prev.StudentID != s.StudentID {
		delete(byStudentID, prev.StudentID)
	}
	byCard[s.CardID] = s
	byStudentID[s.StudentID] = s.CardID
}
