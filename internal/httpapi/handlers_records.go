package httpapi

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"attendtrack/internal/attendance"
	"attendtrack/internal/auth"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// criteria reads record filters from the query string. Students only ever
// see their own records.
func criteria(c *gin.Context) (attendance.Criteria, error) {
	cr := attendance.Criteria{
		DateFrom:  c.Query("date_from"),
		DateTo:    c.Query("date_to"),
		StudentID: c.Query("student_id"),
		Course:    c.Query("course"),
		Section:   c.Query("section"),
		Query:     c.Query("q"),
	}
	if v := c.Query("status"); v != "" {
		st, err := attendance.ParseStatus(v)
		if err != nil {
			return cr, err
		}
		cr.Status = st
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cr.Limit = n
		}
	}
	if user := auth.CurrentUser(c); user != nil && user.Role == auth.RoleStudent {
		cr.StudentID = user.Username
	}
	return cr, nil
}

func (s *Server) listAttendance(c *gin.Context) {
	cr, err := criteria(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	records := s.deps.Ledger.Filter(cr)
	c.JSON(http.StatusOK, gin.H{"records": records, "total": len(records)})
}

func (s *Server) attendanceStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"date": s.deps.Ledger.Today(), "stats": s.deps.Ledger.Stats()})
}

func (s *Server) exportAttendance(c *gin.Context) {
	cr, err := criteria(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	var buf bytes.Buffer
	if err := attendance.WriteXLSX(&buf, s.deps.Ledger.Filter(cr), s.deps.Location); err != nil {
		s.log.WithError(err).Error("attendance export failed")
		respondError(c, http.StatusInternalServerError, "export_failed", "could not build spreadsheet")
		return
	}
	name := "attendance-" + s.deps.Ledger.Today() + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
