package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"attendtrack/internal/auth"
	"attendtrack/internal/registration"
)

type startRegistrationRequest struct {
	CardID string `json:"rfidCardId"`
}

func (s *Server) listRegistrations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"registrations": s.deps.Registrations.List()})
}

// startRegistration opens a workflow. Without an explicit card the pending
// unregistered scan, if any, is used.
func (s *Server) startRegistration(c *gin.Context) {
	var req startRegistrationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "bad_request", "invalid body")
			return
		}
	}
	if req.CardID == "" {
		if pending, ok := s.deps.Scanner.Pending(); ok {
			req.CardID = pending.CardID
		}
	}
	w := s.deps.Registrations.Start(auth.CurrentUser(c).Username, req.CardID)
	c.JSON(http.StatusCreated, w)
}

func (s *Server) getRegistration(c *gin.Context) {
	w, err := s.deps.Registrations.Get(c.Param("id"))
	if err != nil {
		s.workflowError(c, w, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) updateRegistration(c *gin.Context) {
	var form registration.Form
	if err := c.ShouldBindJSON(&form); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", "invalid registration body")
		return
	}
	w, err := s.deps.Registrations.Update(c.Param("id"), form)
	if err != nil {
		s.workflowError(c, w, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) deleteRegistration(c *gin.Context) {
	if err := s.deps.Registrations.Delete(c.Param("id")); err != nil {
		s.workflowError(c, registration.Workflow{}, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) registrationStep(step func(id string) (registration.Workflow, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := step(c.Param("id"))
		if err != nil {
			s.workflowError(c, w, err)
			return
		}
		workflowResponse(c, w)
	}
}

func (s *Server) confirmRegistration(c *gin.Context) {
	w, err := s.deps.Registrations.Confirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.workflowError(c, w, err)
		return
	}
	workflowResponse(c, w)
}

// workflowResponse answers 422 while the workflow carries field errors or
// a submission failure, 200 otherwise. The workflow is always the body.
func workflowResponse(c *gin.Context, w registration.Workflow) {
	if len(w.Errors) > 0 || w.LastError != "" {
		c.JSON(http.StatusUnprocessableEntity, w)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) workflowError(c *gin.Context, w registration.Workflow, err error) {
	switch {
	case errors.Is(err, registration.ErrNotFound):
		respondError(c, http.StatusNotFound, "registration_not_found", "registration not found")
	case errors.Is(err, registration.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": err.Error(), "registration": w})
	default:
		s.log.WithError(err).Error("registration workflow")
		respondError(c, http.StatusInternalServerError, "internal", err.Error())
	}
}
