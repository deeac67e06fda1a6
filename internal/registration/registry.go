package registration

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"attendtrack/internal/clock"
	"attendtrack/internal/directory"
	"attendtrack/internal/metrics"
	"attendtrack/internal/notify"
)

// Directory is the directory surface registration needs.
type Directory interface {
	DuplicateChecker
	Register(ctx context.Context, s directory.Student) (directory.Student, error)
}

// PendingClearer clears the scanner's pending unregistered scan.
type PendingClearer interface {
	ClearPendingFor(cardID string) bool
}

// Registry keeps in-flight registration workflows by id.
type Registry struct {
	mu        sync.Mutex
	workflows map[string]*Workflow

	dir       Directory
	pending   PendingClearer
	toasts    notify.Notifier
	validator *Validator
	clock     clock.Clock
	metrics   *metrics.Metrics
	log       *logrus.Entry
}

// NewRegistry creates an empty registry. pending may be nil.
func NewRegistry(dir Directory, pending PendingClearer, toasts notify.Notifier, v *Validator,
	clk clock.Clock, log *logrus.Entry) *Registry {
	return &Registry{
		workflows: make(map[string]*Workflow),
		dir:       dir,
		pending:   pending,
		toasts:    toasts,
		validator: v,
		clock:     clk,
		log:       log,
	}
}

// SetMetrics attaches collectors.
func (r *Registry) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// Start opens a workflow at the identity step, optionally prefilled with
// the card id of a pending scan.
func (r *Registry) Start(createdBy, cardID string) Workflow {
	now := r.clock.Now()
	w := &Workflow{
		ID:        uuid.NewString(),
		Step:      StepIdentity,
		Form:      Form{CardID: cardID, YearLevel: 1}.Normalize(),
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.mu.Lock()
	r.workflows[w.ID] = w
	r.mu.Unlock()
	return w.clone()
}

// Get returns a workflow by id.
func (r *Registry) Get(id string) (Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workflows[id]
	if !ok {
		return Workflow{}, ErrNotFound
	}
	return w.clone(), nil
}

// List returns workflows oldest first.
func (r *Registry) List() []Workflow {
	r.mu.Lock()
	out := make([]Workflow, 0, len(r.workflows))
	for _, w := range r.workflows {
		out = append(out, w.clone())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Update replaces the form. Field errors for changed fields are cleared.
func (r *Registry) Update(id string, form Form) (Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workflows[id]
	if !ok {
		return Workflow{}, ErrNotFound
	}
	if !w.Editable() {
		return w.clone(), errors.Wrapf(ErrInvalidTransition, "cannot edit in step %s", w.Step)
	}
	form = form.Normalize()
	for field := range w.Errors {
		if fieldValue(w.Form, field) != fieldValue(form, field) {
			delete(w.Errors, field)
		}
	}
	w.Form = form
	w.UpdatedAt = r.clock.Now()
	return w.clone(), nil
}

// Next validates the current step's fields and advances when they pass.
// Field errors are returned on the workflow, not as an error.
func (r *Registry) Next(id string) (Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workflows[id]
	if !ok {
		return Workflow{}, ErrNotFound
	}
	next, ok := nextStep[w.Step]
	if !ok {
		return w.clone(), errors.Wrapf(ErrInvalidTransition, "no next step from %s", w.Step)
	}

	errs := r.validator.Validate(w.Form, r.dir).Only(stepFields[w.Step]...)
	w.UpdatedAt = r.clock.Now()
	if len(errs) > 0 {
		w.Errors = errs
		return w.clone(), nil
	}
	w.Errors = nil
	w.Step = next
	return w.clone(), nil
}

// Back moves to the previous step.
func (r *Registry) Back(id string) (Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workflows[id]
	if !ok {
		return Workflow{}, ErrNotFound
	}
	prev, ok := prevStep[w.Step]
	if !ok {
		return w.clone(), errors.Wrapf(ErrInvalidTransition, "no previous step from %s", w.Step)
	}
	w.Step = prev
	w.LastError = ""
	w.UpdatedAt = r.clock.Now()
	return w.clone(), nil
}

// Review validates every field and jumps straight to confirming when the
// form is complete. Otherwise the workflow moves to the first step with an
// error.
func (r *Registry) Review(id string) (Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workflows[id]
	if !ok {
		return Workflow{}, ErrNotFound
	}
	if !w.Editable() {
		return w.clone(), errors.Wrapf(ErrInvalidTransition, "cannot review in step %s", w.Step)
	}
	w.UpdatedAt = r.clock.Now()
	errs := r.validator.Validate(w.Form, r.dir)
	if len(errs) == 0 {
		w.Errors = nil
		w.Step = StepConfirming
		return w.clone(), nil
	}
	w.Errors = errs
	w.Step = firstStepWithError(errs)
	return w.clone(), nil
}

// Confirm submits a workflow in the confirming step. The form is
// re-validated in full first. On success the student is in the directory,
// a matching pending scan is cleared and a toast is published. On failure
// the workflow returns to confirming with LastError set.
func (r *Registry) Confirm(ctx context.Context, id string) (Workflow, error) {
	r.mu.Lock()
	w, ok := r.workflows[id]
	if !ok {
		r.mu.Unlock()
		return Workflow{}, ErrNotFound
	}
	if w.Step != StepConfirming {
		out := w.clone()
		r.mu.Unlock()
		return out, errors.Wrapf(ErrInvalidTransition, "cannot confirm in step %s", w.Step)
	}
	if errs := r.validator.Validate(w.Form, r.dir); len(errs) > 0 {
		w.Errors = errs
		w.LastError = "Please fix the highlighted fields"
		w.UpdatedAt = r.clock.Now()
		out := w.clone()
		r.mu.Unlock()
		r.metrics.Registration("failed")
		r.toasts.Publish(notify.KindError, "Registration Failed", firstMessage(errs))
		return out, nil
	}
	w.Step = StepSubmitting
	w.Errors = nil
	w.LastError = ""
	form, by := w.Form, w.CreatedBy
	r.mu.Unlock()

	student, regErr := r.submit(ctx, form, by)

	r.mu.Lock()
	defer r.mu.Unlock()
	w.UpdatedAt = r.clock.Now()
	if regErr != nil {
		w.Step = StepConfirming
		w.LastError = regErr.Reason
		if regErr.Field != "" {
			w.Errors = FieldErrors{regErr.Field: fieldMessage(regErr)}
		}
		return w.clone(), nil
	}
	w.Step = StepSuccess
	w.Student = &student
	return w.clone(), nil
}

// Register validates and submits form in one call. Field errors are
// returned when the form is invalid; a *directory.RegistrationError when
// the directory rejects it.
func (r *Registry) Register(ctx context.Context, form Form, by string) (directory.Student, FieldErrors, error) {
	form = form.Normalize()
	if errs := r.validator.Validate(form, r.dir); len(errs) > 0 {
		return directory.Student{}, errs, nil
	}
	student, regErr := r.submit(ctx, form, by)
	if regErr != nil {
		return directory.Student{}, nil, regErr
	}
	return student, nil, nil
}

// Delete discards a workflow.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workflows[id]; !ok {
		return ErrNotFound
	}
	delete(r.workflows, id)
	return nil
}

func (r *Registry) submit(ctx context.Context, form Form, by string) (directory.Student, *directory.RegistrationError) {
	student, err := r.dir.Register(ctx, directory.Student{
		StudentID:     form.StudentID,
		FullName:      form.FullName,
		CardID:        form.CardID,
		GuardianName:  form.GuardianName,
		GuardianPhone: form.GuardianPhone,
		StudentPhone:  form.StudentPhone,
		Email:         form.Email,
		Course:        form.Course,
		Section:       form.Section,
		YearLevel:     form.YearLevel,
		RegisteredBy:  by,
	})
	if err != nil {
		var regErr *directory.RegistrationError
		if !errors.As(err, &regErr) {
			regErr = &directory.RegistrationError{Reason: err.Error(), Err: err}
		}
		r.metrics.Registration("failed")
		r.log.WithError(err).WithField("student_id", form.StudentID).Warn("registration failed")
		r.toasts.Publish(notify.KindError, "Registration Failed", regErr.Reason)
		return directory.Student{}, regErr
	}

	if r.pending != nil {
		r.pending.ClearPendingFor(student.CardID)
	}
	r.metrics.Registration("success")
	r.log.WithFields(logrus.Fields{"student_id": student.StudentID, "card_id": student.CardID}).Info("registration complete")
	r.toasts.Publish(notify.KindSuccess, "Student Registered", student.FullName+" has been successfully registered.")
	return student, nil
}

func fieldMessage(e *directory.RegistrationError) string {
	switch {
	case errors.Is(e, directory.ErrDuplicateStudentID):
		return msgDuplicateStudentID
	case errors.Is(e, directory.ErrDuplicateCard):
		return msgDuplicateCard
	}
	return e.Reason
}

func firstStepWithError(errs FieldErrors) Step {
	for _, step := range []Step{StepIdentity, StepGuardian, StepAcademic} {
		if len(errs.Only(stepFields[step]...)) > 0 {
			return step
		}
	}
	return StepConfirming
}

// firstMessage returns the message of the earliest field in form order.
func firstMessage(errs FieldErrors) string {
	for _, step := range []Step{StepIdentity, StepGuardian, StepAcademic} {
		for _, field := range stepFields[step] {
			if msg, ok := errs[field]; ok {
				return msg
			}
		}
	}
	for _, msg := range errs {
		return msg
	}
	return ""
}

func fieldValue(f Form, field string) any {
	switch field {
	case "studentId":
		return f.StudentID
	case "fullName":
		return f.FullName
	case "rfidCardId":
		return f.CardID
	case "guardianName":
		return f.GuardianName
	case "guardianPhone":
		return f.GuardianPhone
	case "studentPhone":
		return f.StudentPhone
	case "email":
		return f.Email
	case "course":
		return f.Course
	case "section":
		return f.Section
	case "yearLevel":
		return f.YearLevel
	}
	return nil
}
