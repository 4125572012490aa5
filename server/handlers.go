package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/ragflow/core"
)

type createSessionRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type submitQueryRequest struct {
	SessionID string            `json:"session_id" binding:"required"`
	Text      string            `json:"text" binding:"required"`
	Context   core.QueryContext `json:"context"`
	Stream    *bool             `json:"stream"`
}

type noteRequest struct {
	Note string `json:"note"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	session, err := s.deps.Pipeline.CreateSession(c.Request.Context(), req.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Server) getSession(c *gin.Context) {
	session, err := s.deps.Pipeline.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) getLedger(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	if _, err := s.deps.Pipeline.Session(ctx, sessionID); err != nil {
		s.respondError(c, err)
		return
	}
	entries, err := s.deps.Ledger.Entries(ctx, sessionID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	total, tokens, err := s.deps.Ledger.SessionTotal(ctx, sessionID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	view := ledgerView{
		SessionID:   sessionID,
		Entries:     make([]ledgerEntryView, 0, len(entries)),
		TotalCost:   total.StringFixed(6),
		TotalTokens: tokens,
	}
	for _, e := range entries {
		view.Entries = append(view.Entries, newLedgerEntryView(e))
	}
	c.JSON(http.StatusOK, view)
}

// submitQuery starts a run. Streaming defaults to on.
func (s *Server) submitQuery(c *gin.Context) {
	var req submitQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	stream := true
	if req.Stream != nil {
		stream = *req.Stream
	}
	runID, err := s.deps.Pipeline.Submit(c.Request.Context(), core.Query{
		SessionID: req.SessionID,
		Text:      req.Text,
		Context:   req.Context,
		Stream:    stream,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("Location", "/v1/runs/"+runID)
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

func (s *Server) getRun(c *gin.Context) {
	run, err := s.deps.Pipeline.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) cancelRun(c *gin.Context) {
	if err := s.deps.Pipeline.Cancel(c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) runEvaluations(c *gin.Context) {
	ctx := c.Request.Context()
	runID := c.Param("id")
	if _, err := s.deps.Pipeline.Status(ctx, runID); err != nil {
		s.respondError(c, err)
		return
	}
	views := []evaluationView{}
	if s.deps.Evaluations != nil {
		records, err := s.deps.Evaluations.Records(ctx, runID)
		if err != nil {
			s.respondError(c, err)
			return
		}
		for _, r := range records {
			views = append(views, newEvaluationView(r))
		}
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "evaluations": views})
}

func (s *Server) listTickets(c *gin.Context) {
	status := core.TicketStatus(c.Query("status"))
	switch status {
	case "", core.TicketOpen, core.TicketResolved, core.TicketAbandoned:
	default:
		badRequest(c, "unknown ticket status "+string(status))
		return
	}
	tickets, err := s.deps.Tickets.List(c.Request.Context(), status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	views := make([]ticketView, 0, len(tickets))
	for _, t := range tickets {
		views = append(views, newTicketView(t))
	}
	c.JSON(http.StatusOK, gin.H{"tickets": views})
}

func (s *Server) getTicket(c *gin.Context) {
	ticket, err := s.deps.Tickets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTicketView(ticket))
}

func (s *Server) resolveTicket(c *gin.Context) {
	s.closeTicket(c, s.deps.Tickets.Resolve)
}

func (s *Server) abandonTicket(c *gin.Context) {
	s.closeTicket(c, s.deps.Tickets.Abandon)
}

func (s *Server) closeTicket(c *gin.Context, closeFn func(ctx context.Context, id, note string) (*core.EscalationTicket, error)) {
	var req noteRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	ticket, err := closeFn(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTicketView(ticket))
}
