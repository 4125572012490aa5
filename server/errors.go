package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/escalation"
	"github.com/poiesic/ragflow/pipeline"
)

var (
	// ErrPipelineRequired indicates the server was built without a pipeline.
	ErrPipelineRequired = errors.New("pipeline is required")

	// ErrTicketsRequired indicates the server was built without a ticket service.
	ErrTicketsRequired = errors.New("ticket service is required")

	// ErrLedgerRequired indicates the server was built without a ledger reader.
	ErrLedgerRequired = errors.New("ledger is required")
)

// Error codes returned in response bodies.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeGone               = "GONE"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// ErrorInfo is the error body of a failed request.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps an error onto an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrRunNotFound),
		errors.Is(err, pipeline.ErrSessionNotFound),
		errors.Is(err, escalation.ErrTicketNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, core.ErrInvalidQuery),
		errors.Is(err, escalation.ErrInvalidReason):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, pipeline.ErrRunExpired):
		return http.StatusGone, CodeGone
	case errors.Is(err, escalation.ErrTicketClosed):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, pipeline.ErrOrchestratorClosed):
		return http.StatusServiceUnavailable, CodeServiceUnavailable
	}
	return http.StatusInternalServerError, CodeInternal
}

// respondError writes err as a JSON error body.
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
		message = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": ErrorInfo{Code: code, Message: message}})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ErrorInfo{Code: CodeBadRequest, Message: message}})
}
