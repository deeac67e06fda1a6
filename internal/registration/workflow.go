package registration

import (
	"time"

	"github.com/pkg/errors"

	"attendtrack/internal/directory"
)

var (
	// ErrInvalidTransition is returned when an action is not allowed in the
	// workflow's current step.
	ErrInvalidTransition = errors.New("invalid registration transition")
	ErrNotFound          = errors.New("registration not found")
)

// Step is a registration workflow state.
type Step string

const (
	StepIdentity   Step = "identity"
	StepGuardian   Step = "guardian"
	StepAcademic   Step = "academic"
	StepConfirming Step = "confirming"
	StepSubmitting Step = "submitting"
	StepSuccess    Step = "success"
)

// stepFields lists the form fields validated when leaving each input step.
var stepFields = map[Step][]string{
	StepIdentity: {"studentId", "fullName", "rfidCardId"},
	StepGuardian: {"guardianName", "guardianPhone", "studentPhone", "email"},
	StepAcademic: {"course", "section", "yearLevel"},
}

var nextStep = map[Step]Step{
	StepIdentity: StepGuardian,
	StepGuardian: StepAcademic,
	StepAcademic: StepConfirming,
}

var prevStep = map[Step]Step{
	StepGuardian:   StepIdentity,
	StepAcademic:   StepGuardian,
	StepConfirming: StepAcademic,
}

// Workflow is one in-flight registration.
type Workflow struct {
	ID        string             `json:"id"`
	Step      Step               `json:"step"`
	Form      Form               `json:"form"`
	Errors    FieldErrors        `json:"errors,omitempty"`
	LastError string             `json:"last_error,omitempty"`
	Student   *directory.Student `json:"student,omitempty"`
	CreatedBy string             `json:"created_by"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Editable reports whether the form may still be changed.
func (w Workflow) Editable() bool {
	switch w.Step {
	case StepIdentity, StepGuardian, StepAcademic, StepConfirming:
		return true
	}
	return false
}

func (w Workflow) clone() Workflow {
	if w.Errors != nil {
		errs := make(FieldErrors, len(w.Errors))
		for k, v := range w.Errors {
			errs[k] = v
		}
		w.Errors = errs
	}
	if w.Student != nil {
		s := *w.Student
		w.Student = &s
	}
	return w
}
