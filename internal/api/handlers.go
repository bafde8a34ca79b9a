package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/husobiker/qrcard-sub003/internal/dialect"
	"github.com/husobiker/qrcard-sub003/internal/gateway"
	"github.com/husobiker/qrcard-sub003/internal/models"
	"github.com/husobiker/qrcard-sub003/internal/session"
)

const (
	msgCallFailed      = "call could not be completed"
	msgLogWriteFailed  = "call log could not be saved"
	msgInvalidBody     = "invalid JSON body"
	msgAllEndpoints    = "all PBX endpoints failed"
	msgSessionNotFound = "session not found"
)

type handlers struct {
	gateway  session.Gateway
	sessions *session.Manager
	logs     CallLogReader
}

type callRequest struct {
	models.ConnectionParams
	PhoneNumber string `json:"phone_number"`
	CallID      string `json:"call_id"`
}

func (h *handlers) startCall(c *gin.Context) {
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidBody})
		return
	}
	result, err := h.gateway.StartCall(c.Request.Context(), req.ConnectionParams, req.PhoneNumber)
	h.respondCall(c, result, err)
}

func (h *handlers) endCall(c *gin.Context) {
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidBody})
		return
	}
	result, err := h.gateway.EndCall(c.Request.Context(), req.ConnectionParams, req.CallID)
	h.respondCall(c, result, err)
}

func (h *handlers) respondCall(c *gin.Context, result *dialect.CallResult, err error) {
	var missing *gateway.MissingParameterError
	var failed *dialect.AllEndpointsFailedError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"call_id": result.RemoteCallID,
			"dialect": result.Dialect,
			"data":    result.Raw,
		})
	case errors.As(err, &missing):
		c.JSON(http.StatusBadRequest, gin.H{"error": missing.Error()})
	case errors.As(err, &failed):
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgAllEndpoints, "details": failed.Outcomes})
	default:
		log.Printf("[API] %s: %v", c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *handlers) outbound(c *gin.Context) {
	var info session.Info
	if err := c.ShouldBindJSON(&info); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidBody})
		return
	}

	s, err := h.sessions.Outbound(c.Request.Context(), info)
	if err != nil {
		if s == nil {
			sessionError(c, err)
			return
		}
		var lwf *session.LogWriteFailedError
		if errors.As(err, &lwf) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgLogWriteFailed, "session": s.Snapshot()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": msgCallFailed, "session": s.Snapshot()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": s.Snapshot()})
}

func (h *handlers) inbound(c *gin.Context) {
	var info session.Info
	if err := c.ShouldBindJSON(&info); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidBody})
		return
	}

	s, err := h.sessions.Inbound(c.Request.Context(), info)
	if err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": s.Snapshot()})
}

func (h *handlers) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.Active()})
}

func (h *handlers) getSession(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s.Snapshot()})
}

func (h *handlers) answer(c *gin.Context) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		sessionError(c, err)
		return
	}
	if err := s.Answer(c.Request.Context()); err != nil {
		sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s.Snapshot()})
}

// terminal serves the events that end a session and return its log.
func (h *handlers) terminal(event func(*session.Session, context.Context) (*models.CallLog, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := h.sessions.Get(c.Param("id"))
		if err != nil {
			sessionError(c, err)
			return
		}
		entry, err := event(s, c.Request.Context())
		if err != nil {
			var lwf *session.LogWriteFailedError
			if errors.As(err, &lwf) {
				c.JSON(http.StatusInternalServerError, gin.H{"error": msgLogWriteFailed, "session": s.Snapshot()})
				return
			}
			sessionError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": s.Snapshot(), "call_log": entry})
	}
}

func sessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidInfo):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": msgSessionNotFound})
	case errors.Is(err, session.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("[API] %s: %v", c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgCallFailed})
	}
}

func logFilter(c *gin.Context) (models.CallLogFilter, bool) {
	filter := models.CallLogFilter{
		CompanyID:  c.Query("company_id"),
		EmployeeID: c.Query("employee_id"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return filter, false
		}
		filter.Limit = limit
	}
	return filter, true
}

func (h *handlers) callLogs(c *gin.Context) {
	filter, ok := logFilter(c)
	if !ok {
		return
	}
	logs, err := h.logs.GetCallLogs(c.Request.Context(), filter)
	if err != nil {
		log.Printf("[API] call logs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "call logs could not be loaded"})
		return
	}
	if logs == nil {
		logs = []models.CallLog{}
	}
	c.JSON(http.StatusOK, gin.H{"call_logs": logs})
}

func (h *handlers) callLogStats(c *gin.Context) {
	filter, ok := logFilter(c)
	if !ok {
		return
	}
	stats, err := h.logs.GetCallLogStats(c.Request.Context(), filter)
	if err != nil {
		log.Printf("[API] call log stats: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "call log stats could not be loaded"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
