package sms

import (
	"strings"
	"time"
)

// MessageVars fills the placeholders of an SMS template.
type MessageVars struct {
	StudentName string
	At          time.Time
	Status      string
}

// Render substitutes {studentName}, {time}, {date} and {status} in tmpl.
// A late status renders as LATE, anything else in title case.
func Render(tmpl string, v MessageVars) string {
	status := strings.ToLower(v.Status)
	switch {
	case status == "late":
		status = "LATE"
	case status != "":
		status = strings.ToUpper(status[:1]) + status[1:]
	}
	r := strings.NewReplacer(
		"{studentName}", v.StudentName,
		"{time}", v.At.Format("3:04:05 PM"),
		"{date}", v.At.Format("1/2/2006"),
		"{status}", status,
	)
	return r.Replace(tmpl)
}
