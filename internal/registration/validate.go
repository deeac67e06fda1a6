package registration

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// Courses offered.
var Courses = []string{
	"Computer Science",
	"Information Technology",
	"Information Systems",
	"Computer Engineering",
	"Data Science",
}

// Sections offered.
var Sections = []string{"A", "B", "C", "D", "E"}

// Form is the registration input. JSON names double as field keys in
// FieldErrors.
type Form struct {
	StudentID     string `json:"studentId" validate:"required,studentid"`
	FullName      string `json:"fullName" validate:"required,min=3"`
	CardID        string `json:"rfidCardId" validate:"required"`
	GuardianName  string `json:"guardianName" validate:"required"`
	GuardianPhone string `json:"guardianPhone" validate:"required,phmobile"`
	StudentPhone  string `json:"studentPhone,omitempty" validate:"omitempty,phmobile"`
	Email         string `json:"email,omitempty" validate:"omitempty,email"`
	Course        string `json:"course" validate:"required,course"`
	Section       string `json:"section" validate:"required,section"`
	YearLevel     int    `json:"yearLevel" validate:"min=1,max=4"`
}

// Normalize trims input, formats phone numbers and defaults the year level.
func (f Form) Normalize() Form {
	f.StudentID = strings.TrimSpace(f.StudentID)
	f.FullName = strings.TrimSpace(f.FullName)
	f.CardID = strings.TrimSpace(f.CardID)
	f.GuardianName = strings.TrimSpace(f.GuardianName)
	f.GuardianPhone = FormatPhone(f.GuardianPhone)
	if f.StudentPhone != "" {
		f.StudentPhone = FormatPhone(f.StudentPhone)
	}
	f.Email = strings.TrimSpace(f.Email)
	f.Course = strings.TrimSpace(f.Course)
	f.Section = strings.TrimSpace(f.Section)
	if f.YearLevel == 0 {
		f.YearLevel = 1
	}
	return f
}

// FieldErrors maps a form field to its message.
type FieldErrors map[string]string

// Only keeps the errors for fields.
func (fe FieldErrors) Only(fields ...string) FieldErrors {
	out := FieldErrors{}
	for _, f := range fields {
		if msg, ok := fe[f]; ok {
			out[f] = msg
		}
	}
	return out
}

// DuplicateChecker is the directory view used for uniqueness checks.
type DuplicateChecker interface {
	HasCard(cardID string) bool
	HasStudentID(studentID string) bool
}

const (
	studentIDTag = "studentid"
	phMobileTag  = "phmobile"
	courseTag    = "course"
	sectionTag   = "section"
)

var studentIDPattern = regexp.MustCompile(`^\d{4}-\d{4}$`)

// messages overrides the generic translations per field and tag.
var messages = map[string]map[string]string{
	"studentId": {
		"required":   "Student ID is required",
		studentIDTag: "Format: YYYY-NNNN (e.g., 2024-0001)",
	},
	"fullName": {
		"required": "Full name is required",
		"min":      "Name must be at least 3 characters",
	},
	"rfidCardId":    {"required": "RFID Card ID is required"},
	"guardianName":  {"required": "Guardian name is required"},
	"guardianPhone": {"required": "Phone number is required", phMobileTag: "Invalid Philippine mobile number"},
	"studentPhone":  {phMobileTag: "Invalid Philippine mobile number"},
	"email":         {"email": "Invalid email format"},
	"course":        {"required": "Please select a course", courseTag: "Please select a course"},
	"section":       {"required": "Please select a section", sectionTag: "Please select a section"},
	"yearLevel":     {"min": "Year level must be between 1 and 4", "max": "Year level must be between 1 and 4"},
}

const (
	msgDuplicateStudentID = "This Student ID is already registered"
	msgDuplicateCard      = "This RFID card is already registered"
)

// Validator checks registration forms.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// NewValidator builds a validator with the registration tags and English
// fallback messages.
func NewValidator() *Validator {
	v := validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	trans, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation(studentIDTag, func(fl validator.FieldLevel) bool {
		return studentIDPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation(phMobileTag, func(fl validator.FieldLevel) bool {
		return ValidPhone(fl.Field().String())
	})
	_ = v.RegisterValidation(courseTag, func(fl validator.FieldLevel) bool {
		return contains(Courses, fl.Field().String())
	})
	_ = v.RegisterValidation(sectionTag, func(fl validator.FieldLevel) bool {
		return contains(Sections, fl.Field().String())
	})

	noop := func(ut.Translator) error { return nil }
	for _, tag := range []string{studentIDTag, phMobileTag, courseTag, sectionTag} {
		_ = v.RegisterTranslation(tag, trans, noop, func(_ ut.Translator, fe validator.FieldError) string {
			return fe.Field() + " is invalid"
		})
	}

	return &Validator{validate: v, translator: trans}
}

// Validate checks form, which should already be normalized, and the
// directory for duplicates. A nil or empty result means the form is valid.
func (v *Validator) Validate(form Form, dir DuplicateChecker) FieldErrors {
	errs := FieldErrors{}
	if err := v.validate.Struct(form); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				if _, seen := errs[fe.Field()]; seen {
					continue
				}
				errs[fe.Field()] = v.message(fe)
			}
		} else {
			errs["form"] = err.Error()
		}
	}

	if dir != nil {
		if _, bad := errs["studentId"]; !bad && dir.HasStudentID(form.StudentID) {
			errs["studentId"] = msgDuplicateStudentID
		}
		if _, bad := errs["rfidCardId"]; !bad && dir.HasCard(form.CardID) {
			errs["rfidCardId"] = msgDuplicateCard
		}
	}
	return errs
}

func (v *Validator) message(fe validator.FieldError) string {
	if byTag, ok := messages[fe.Field()]; ok {
		if msg, ok := byTag[fe.Tag()]; ok {
			return msg
		}
	}
	return fe.Translate(v.translator)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
