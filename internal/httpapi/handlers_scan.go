package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"attendtrack/internal/attendance"
	"attendtrack/internal/auth"
	"attendtrack/internal/scanner"
)

type cardRequest struct {
	CardID string `json:"rfidCardId" binding:"required"`
}

func (s *Server) dashboard(c *gin.Context) {
	today := s.deps.Ledger.Today()
	c.JSON(http.StatusOK, gin.H{
		"school_name": s.deps.Settings.Get().SchoolName,
		"date":        today,
		"stats":       s.deps.Ledger.Stats(),
		"scanner":     s.deps.Scanner.State(),
		"sms_module":  s.deps.SMS.ModuleStatus(),
		"sms":         s.deps.SMS.Counts(),
		"recent":      s.deps.Ledger.Filter(attendance.Criteria{DateFrom: today, DateTo: today, Limit: 10}),
	})
}

func (s *Server) scannerState(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Scanner.State())
}

func (s *Server) simulateScan(c *gin.Context) {
	var req cardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "rfidCardId is required")
		return
	}
	if err := s.deps.Scanner.Simulate(req.CardID); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "scanning", "rfidCardId": req.CardID})
}

func (s *Server) scanNow(c *gin.Context) {
	var req cardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "rfidCardId is required")
		return
	}
	out, err := s.deps.Scanner.ScanNow(c.Request.Context(), req.CardID)
	if err != nil {
		s.scanError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) clearPending(c *gin.Context) {
	s.deps.Scanner.ClearPending()
	c.Status(http.StatusNoContent)
}

func (s *Server) hardwareEvent(c *gin.Context) {
	var ev scanner.HardwareEvent
	if err := c.ShouldBindJSON(&ev); err != nil || ev.Type == "" {
		respondError(c, http.StatusBadRequest, "bad_request", "event type is required")
		return
	}
	out, err := s.deps.Scanner.HandleEvent(c.Request.Context(), ev)
	if err != nil {
		s.scanError(c, err)
		return
	}
	if out == nil {
		c.JSON(http.StatusAccepted, gin.H{"status": "applied", "type": ev.Type})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) scanError(c *gin.Context, err error) {
	if errors.Is(err, attendance.ErrStudentNotFound) {
		respondError(c, http.StatusNotFound, "student_not_found", err.Error())
		return
	}
	respondError(c, http.StatusBadRequest, "bad_request", err.Error())
}

type manualAttendanceRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	Status    string `json:"status" binding:"required"`
}

func (s *Server) manualAttendance(c *gin.Context) {
	var req manualAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "student_id and status are required")
		return
	}
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	rec, err := s.deps.Ledger.RecordManual(c.Request.Context(), req.StudentID, status, auth.CurrentUser(c).Username)
	if err != nil {
		s.scanError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}
