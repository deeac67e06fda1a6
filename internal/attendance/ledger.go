package attendance

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
	"attendtrack/internal/directory"
	"attendtrack/internal/metrics"
)

// ErrStudentNotFound is returned when a student id is absent from the
// directory.
var ErrStudentNotFound = errors.New("student not found")

// DateLayout is the calendar date format used by records and filters.
const DateLayout = "2006-01-02"

// Record is one student's attendance for one calendar date.
type Record struct {
	ID          string     `json:"id"`
	StudentID   string     `json:"student_id"`
	StudentName string     `json:"student_name"`
	Course      string     `json:"course,omitempty"`
	Section     string     `json:"section,omitempty"`
	Date        string     `json:"date"`
	CheckIn     time.Time  `json:"check_in"`
	CheckOut    *time.Time `json:"check_out,omitempty"`
	Status      Status     `json:"status"`
	Location    string     `json:"location"`
	VerifiedBy  string     `json:"verified_by,omitempty"`
	SMSSent     bool       `json:"sms_sent"`
	SMSSentAt   *time.Time `json:"sms_sent_at,omitempty"`
}

func (r Record) clone() Record {
	if r.CheckOut != nil {
		t := *r.CheckOut
		r.CheckOut = &t
	}
	if r.SMSSentAt != nil {
		t := *r.SMSSentAt
		r.SMSSentAt = &t
	}
	return r
}

// StudentResolver is the read side of the directory the ledger needs.
type StudentResolver interface {
	LookupStudent(studentID string) (directory.Student, bool)
	List(query string) []directory.Student
	Size() int
}

// Archive stores records durably. Failures are logged by the ledger and
// never fail a Record call.
type Archive interface {
	Save(ctx context.Context, rec Record) error
	Since(ctx context.Context, since time.Time) ([]Record, error)
}

type recordKey struct {
	studentID string
	date      string
}

// Ledger is the ordered in-memory collection of attendance records, most
// recent first.
type Ledger struct {
	mu       sync.RWMutex
	records  []*Record
	byKey    map[recordKey]*Record
	dir      StudentResolver
	clock    clock.Clock
	loc      *time.Location
	location func() string
	archive  Archive
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

// NewLedger creates an empty ledger. Calendar dates are computed in loc.
func NewLedger(dir StudentResolver, clk clock.Clock, loc *time.Location, log *logrus.Entry) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	return &Ledger{
		byKey:    make(map[recordKey]*Record),
		dir:      dir,
		clock:    clk,
		loc:      loc,
		location: func() string { return "Main Entrance" },
		log:      log,
	}
}

// SetArchive attaches durable storage.
func (l *Ledger) SetArchive(a Archive) { l.archive = a }

// SetMetrics attaches collectors.
func (l *Ledger) SetMetrics(m *metrics.Metrics) { l.metrics = m }

// SetLocationSource sets where new records take their scanner location from.
func (l *Ledger) SetLocationSource(fn func() string) {
	if fn != nil {
		l.location = fn
	}
}

// Today returns the current calendar date in the ledger's zone.
func (l *Ledger) Today() string {
	return l.clock.Now().In(l.loc).Format(DateLayout)
}

// Record registers a scan for studentID. The first call of the day creates a
// record with the given status; later calls the same day set the check-out
// time on that record and return it.
func (l *Ledger) Record(ctx context.Context, studentID string, status Status) (Record, error) {
	return l.record(ctx, studentID, status, "")
}

// RecordManual is Record for entries made by staff; verifiedBy names them.
func (l *Ledger) RecordManual(ctx context.Context, studentID string, status Status, verifiedBy string) (Record, error) {
	return l.record(ctx, studentID, status, verifiedBy)
}

func (l *Ledger) record(ctx context.Context, studentID string, status Status, verifiedBy string) (Record, error) {
	student, ok := l.dir.LookupStudent(studentID)
	if !ok {
		return Record{}, errors.Wrapf(ErrStudentNotFound, "student %s", studentID)
	}

	now := l.clock.Now().In(l.loc)
	key := recordKey{studentID: studentID, date: now.Format(DateLayout)}

	l.mu.Lock()
	if existing, ok := l.byKey[key]; ok {
		out := now
		existing.CheckOut = &out
		rec := existing.clone()
		l.mu.Unlock()

		l.log.WithFields(logrus.Fields{"student_id": studentID, "date": key.date}).Info("check-out recorded")
		l.save(ctx, rec)
		return rec, nil
	}

	rec := &Record{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		StudentName: student.FullName,
		Course:      student.Course,
		Section:     student.Section,
		Date:        key.date,
		CheckIn:     now,
		Status:      status,
		Location:    l.location(),
		VerifiedBy:  verifiedBy,
	}
	l.records = append([]*Record{rec}, l.records...)
	l.byKey[key] = rec
	out := rec.clone()
	l.mu.Unlock()

	l.metrics.Attendance(string(status))
	l.log.WithFields(logrus.Fields{"student_id": studentID, "date": key.date, "status": status}).Info("attendance recorded")
	l.save(ctx, out)
	return out, nil
}

// MarkSMSSent flags today's record for studentID as notified. It reports
// whether a record was found.
func (l *Ledger) MarkSMSSent(ctx context.Context, studentID string, at time.Time) bool {
	key := recordKey{studentID: studentID, date: l.Today()}

	l.mu.Lock()
	rec, ok := l.byKey[key]
	if !ok {
		l.mu.Unlock()
		return false
	}
	sentAt := at
	rec.SMSSent = true
	rec.SMSSentAt = &sentAt
	out := rec.clone()
	l.mu.Unlock()

	l.save(ctx, out)
	return true
}

// MarkAbsent creates an absent record for every active directory student
// without a record today. It returns the number of records created.
func (l *Ledger) MarkAbsent(ctx context.Context) int {
	now := l.clock.Now().In(l.loc)
	date := now.Format(DateLayout)

	var created []Record
	l.mu.Lock()
	for _, s := range l.dir.List("") {
		if !s.Active {
			continue
		}
		key := recordKey{studentID: s.StudentID, date: date}
		if _, ok := l.byKey[key]; ok {
			continue
		}
		rec := &Record{
			ID:          uuid.NewString(),
			StudentID:   s.StudentID,
			StudentName: s.FullName,
			Course:      s.Course,
			Section:     s.Section,
			Date:        date,
			CheckIn:     now,
			Status:      StatusAbsent,
			Location:    l.location(),
			VerifiedBy:  "system",
		}
		l.records = append([]*Record{rec}, l.records...)
		l.byKey[key] = rec
		created = append(created, rec.clone())
	}
	l.mu.Unlock()

	for _, rec := range created {
		l.metrics.Attendance(string(StatusAbsent))
		l.save(ctx, rec)
	}
	if len(created) > 0 {
		l.log.WithFields(logrus.Fields{"date": date, "absent": len(created)}).Info("absentee sweep")
	}
	return len(created)
}

// Stats summarises today's records.
type Stats struct {
	Present  int `json:"present"`
	Late     int `json:"late"`
	Absent   int `json:"absent"`
	Excused  int `json:"excused"`
	Recorded int `json:"recorded"`
	// Total is the directory size, not the record count.
	Total int `json:"total"`
	// Rate is (present + late) / total as a rounded percentage.
	Rate int `json:"rate"`
}

// Stats aggregates today's records by status.
func (l *Ledger) Stats() Stats {
	today := l.Today()
	var st Stats

	l.mu.RLock()
	for _, r := range l.records {
		if r.Date != today {
			continue
		}
		st.Recorded++
		switch r.Status {
		case StatusPresent:
			st.Present++
		case StatusLate:
			st.Late++
		case StatusAbsent:
			st.Absent++
		case StatusExcused:
			st.Excused++
		}
	}
	l.mu.RUnlock()

	st.Total = l.dir.Size()
	if st.Total > 0 {
		st.Rate = int((float64(st.Present+st.Late)/float64(st.Total))*100 + 0.5)
	}
	return st
}

// Criteria filters Filter results. Zero fields match everything; dates are
// inclusive YYYY-MM-DD bounds.
type Criteria struct {
	DateFrom  string
	DateTo    string
	Status    Status
	StudentID string
	Course    string
	Section   string
	// Query is a case-insensitive substring of student id or name.
	Query string
	Limit int
}

// Filter returns matching records sorted by check-in time, newest first.
func (l *Ledger) Filter(c Criteria) []Record {
	q := strings.ToLower(strings.TrimSpace(c.Query))

	l.mu.RLock()
	out := make([]Record, 0, len(l.records))
	for _, r := range l.records {
		if c.DateFrom != "" && r.Date < c.DateFrom {
			continue
		}
		if c.DateTo != "" && r.Date > c.DateTo {
			continue
		}
		if c.Status != "" && r.Status != c.Status {
			continue
		}
		if c.StudentID != "" && r.StudentID != c.StudentID {
			continue
		}
		if c.Course != "" && !strings.EqualFold(r.Course, c.Course) {
			continue
		}
		if c.Section != "" && !strings.EqualFold(r.Section, c.Section) {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(r.StudentID), q) &&
			!strings.Contains(strings.ToLower(r.StudentName), q) {
			continue
		}
		out = append(out, r.clone())
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CheckIn.After(out[j].CheckIn) })
	if c.Limit > 0 && len(out) > c.Limit {
		out = out[:c.Limit]
	}
	return out
}

// TodayRecords returns today's records in ledger order.
func (l *Ledger) TodayRecords() []Record {
	today := l.Today()
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Record
	for _, r := range l.records {
		if r.Date == today {
			out = append(out, r.clone())
		}
	}
	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Restore loads archived records from since onwards. Records already in the
// ledger win. It returns the number of records added.
func (l *Ledger) Restore(ctx context.Context, since time.Time) (int, error) {
	if l.archive == nil {
		return 0, nil
	}
	recs, err := l.archive.Since(ctx, since)
	if err != nil {
		return 0, errors.Wrap(err, "restore attendance")
	}

	l.mu.Lock()
	added := 0
	for i := range recs {
		rec := recs[i].clone()
		key := recordKey{studentID: rec.StudentID, date: rec.Date}
		if _, ok := l.byKey[key]; ok {
			continue
		}
		l.records = append(l.records, &rec)
		l.byKey[key] = &rec
		added++
	}
	sort.SliceStable(l.records, func(i, j int) bool { return l.records[i].CheckIn.After(l.records[j].CheckIn) })
	l.mu.Unlock()

	l.log.WithField("records", added).Info("attendance restored from archive")
	return added, nil
}

func (l *Ledger) save(ctx context.Context, rec Record) {
	if l.archive == nil {
		return
	}
	if err := l.archive.Save(ctx, rec); err != nil {
		l.log.WithError(err).WithField("record_id", rec.ID).Warn("attendance archive write failed")
	}
}
