package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"attendtrack/internal/auth"
	"attendtrack/internal/directory"
	"attendtrack/internal/notify"
	"attendtrack/internal/registration"
)

func (s *Server) listStudents(c *gin.Context) {
	students := s.deps.Directory.List(c.Query("q"))
	c.JSON(http.StatusOK, gin.H{"students": students, "total": len(students)})
}

func (s *Server) getStudent(c *gin.Context) {
	student, ok := s.deps.Directory.LookupStudent(c.Param("studentId"))
	if !ok {
		respondError(c, http.StatusNotFound, "student_not_found", "student not found")
		return
	}
	c.JSON(http.StatusOK, student)
}

func (s *Server) createStudent(c *gin.Context) {
	var form registration.Form
	if err := c.ShouldBindJSON(&form); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "invalid registration body")
		return
	}
	student, fields, err := s.deps.Registrations.Register(c.Request.Context(), form, auth.CurrentUser(c).Username)
	if len(fields) > 0 {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "validation_failed",
			"message": "Please fix the highlighted fields",
			"fields":  fields,
		})
		return
	}
	if err != nil {
		registrationFailed(c, err)
		return
	}
	c.JSON(http.StatusCreated, student)
}

func registrationFailed(c *gin.Context, err error) {
	var regErr *directory.RegistrationError
	if !errors.As(err, &regErr) {
		respondError(c, http.StatusBadGateway, "registration_failed", err.Error())
		return
	}
	status := http.StatusBadGateway
	body := gin.H{"error": "registration_failed", "message": regErr.Reason}
	if regErr.Field != "" {
		status = http.StatusConflict
		body["fields"] = registration.FieldErrors{regErr.Field: regErr.Reason}
	}
	c.AbortWithStatusJSON(status, body)
}

func (s *Server) reloadStudents(c *gin.Context) {
	if err := s.deps.Directory.LoadAll(c.Request.Context()); err != nil {
		s.deps.Bus.Publish(notify.KindWarning, "Directory Unavailable", "Could not refresh the student list. Showing cached students.")
		respondError(c, http.StatusServiceUnavailable, "directory_unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": s.deps.Directory.Size()})
}

type photoRequest struct {
	Data string `json:"data" binding:"required"`
}

func (s *Server) uploadPhoto(c *gin.Context) {
	studentID := c.Param("studentId")
	if !s.deps.Directory.HasStudentID(studentID) {
		respondError(c, http.StatusNotFound, "student_not_found", "student not found")
		return
	}
	if s.deps.Photos == nil {
		respondError(c, http.StatusServiceUnavailable, "photos_unavailable", "image storage not configured")
		return
	}
	var req photoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", `provide {"data": "<base64 data URL>"}`)
		return
	}

	res, err := s.deps.Photos.UploadStudentPhoto(c.Request.Context(), studentID, req.Data)
	if err != nil {
		s.log.WithError(err).WithField("student_id", studentID).Warn("photo upload failed")
		respondError(c, http.StatusBadGateway, "upload_failed", "image upload failed")
		return
	}
	if s.deps.PhotoStore != nil {
		if err := s.deps.PhotoStore.SetPhoto(c.Request.Context(), studentID, res.SecureURL); err != nil {
			s.log.WithError(err).WithField("student_id", studentID).Warn("persist photo url failed")
		}
	}
	student, _ := s.deps.Directory.SetPhoto(studentID, res.SecureURL)
	c.JSON(http.StatusOK, student)
}
