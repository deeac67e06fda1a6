package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"attendtrack/internal/attendance"
	"attendtrack/internal/sms"
)

func (s *Server) listSMS(c *gin.Context) {
	status := sms.DeliveryStatus(c.Query("status"))
	switch status {
	case "", sms.StatusPending, sms.StatusSent, sms.StatusDelivered, sms.StatusFailed:
	default:
		respondError(c, http.StatusBadRequest, "bad_request", "unknown delivery status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": s.deps.SMS.List(status)})
}

func (s *Server) smsStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"counts": s.deps.SMS.Counts(), "module": s.deps.SMS.ModuleStatus()})
}

type sendSMSRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	Message   string `json:"message"`
}

// sendSMS notifies a guardian. An empty message is rendered from the
// configured template using today's record.
func (s *Server) sendSMS(c *gin.Context) {
	var req sendSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "student_id is required")
		return
	}
	student, ok := s.deps.Directory.LookupStudent(req.StudentID)
	if !ok {
		respondError(c, http.StatusNotFound, "student_not_found", "student not found")
		return
	}

	msg := req.Message
	if msg == "" {
		vars := sms.MessageVars{StudentName: student.FullName, At: s.deps.Clock.Now().In(s.deps.Location), Status: string(attendance.StatusPresent)}
		today := s.deps.Ledger.Today()
		if recs := s.deps.Ledger.Filter(attendance.Criteria{DateFrom: today, DateTo: today, StudentID: req.StudentID, Limit: 1}); len(recs) > 0 {
			vars.At = recs[0].CheckIn.In(s.deps.Location)
			vars.Status = string(recs[0].Status)
		}
		msg = sms.Render(s.deps.Settings.Get().SMSTemplate, vars)
	}

	n, err := s.deps.SMS.Send(c.Request.Context(), req.StudentID, msg)
	if errors.Is(err, sms.ErrStudentNotFound) {
		respondError(c, http.StatusNotFound, "student_not_found", err.Error())
		return
	}
	if err != nil {
		respondError(c, http.StatusBadGateway, "sms_failed", err.Error())
		return
	}
	c.JSON(http.StatusCreated, n)
}
