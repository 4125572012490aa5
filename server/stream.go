package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/ragflow/pipeline"
)

// SSE event names.
const (
	chunkEvent  = "chunk"
	statusEvent = "status"
	stateEvent  = "state"
	errorEvent  = "error"
	doneEvent   = "done"
)

func startSSE(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

func sendEvent(c *gin.Context, name string, data any) {
	c.SSEvent(name, data)
	c.Writer.Flush()
}

// streamRun sends the released chunks of a run. If the client goes away
// before any chunk was sent the run is cancelled.
func (s *Server) streamRun(c *gin.Context) {
	ctx := c.Request.Context()
	runID := c.Param("id")
	if _, err := s.deps.Pipeline.Status(ctx, runID); err != nil {
		s.respondError(c, err)
		return
	}

	startSSE(c)
	sent := 0
	for chunk, err := range s.deps.Pipeline.Stream(ctx, runID) {
		if err != nil {
			if ctx.Err() != nil {
				s.disconnected(runID, sent)
				return
			}
			_, code := classify(err)
			switch {
			case errors.Is(err, pipeline.ErrRunEscalated):
				code = "ESCALATED"
			case errors.Is(err, pipeline.ErrRunFailed):
				code = "FAILED"
			}
			sendEvent(c, errorEvent, ErrorInfo{Code: code, Message: err.Error()})
			return
		}
		sendEvent(c, chunkEvent, chunk)
		sent++
	}
	sendEvent(c, doneEvent, gin.H{"run_id": runID, "chunks": sent})
}

func (s *Server) disconnected(runID string, sent int) {
	if sent > 0 {
		s.logger.Debug("stream client disconnected", "run", runID, "sent", sent)
		return
	}
	s.logger.Info("stream client disconnected before release, cancelling run", "run", runID)
	if err := s.deps.Pipeline.Cancel(runID); err != nil {
		s.logger.Warn("failed to cancel run", "run", runID, "err", err)
	}
}

// runEvents sends the current run status followed by every state
// transition until the run ends.
func (s *Server) runEvents(c *gin.Context) {
	ctx := c.Request.Context()
	runID := c.Param("id")

	events, unsubscribe, err := s.deps.Pipeline.Subscribe(runID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	defer unsubscribe()

	run, err := s.deps.Pipeline.Status(ctx, runID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	startSSE(c)
	sendEvent(c, statusEvent, run)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				sendEvent(c, doneEvent, gin.H{"run_id": runID})
				return
			}
			sendEvent(c, stateEvent, ev)
		}
	}
}
