package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/poiesic/ragflow/core"
	"github.com/poiesic/ragflow/pipeline"
	"github.com/poiesic/ragflow/reembed"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	engine, err := newEngine(cfg)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer engine.Close()

	srv, err := engine.NewServer()
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("serving", "addr", cfg.Server.Addr, "storage", cfg.Storage.Path)
	return srv.Serve(ctx, cfg.Server.Addr)
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file is required")
	}

	docs := make([]*core.Document, 0, c.NArg())
	for _, path := range c.Args().Slice() {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		docs = append(docs, &core.Document{
			Collection: c.String("collection"),
			Title:      strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Source:     path,
			Text:       string(data),
		})
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	p, err := engine.NewIngestionPipeline()
	if err != nil {
		return fmt.Errorf("failed to create ingestion pipeline: %w", err)
	}
	defer p.Release()

	chunks, err := p.Ingest(c.Context, docs...)
	if err != nil {
		return err
	}
	if err := p.Wait(); err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}

	total, embedded, err := engine.Repositories().Documents.CountChunks(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Ingested %d documents as %d chunks\n", len(docs), len(chunks))
	fmt.Fprintf(c.App.Writer, "Store holds %d chunks, %d embedded\n", total, embedded)
	return nil
}

func reembedCommand(c *cli.Context) error {
	reembedConfig := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
		OnlyMissing:    c.Bool("only-missing"),
		Resume:         c.Bool("resume"),
	}
	if reembedConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reembedConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if reembedConfig.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	reembedder, err := engine.NewReembedder(reembedConfig, c.App.ErrWriter)
	if err != nil {
		return fmt.Errorf("failed to create reembedder: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := reembedder.Run(ctx); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("a question is required")
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := c.Context
	sessionID := c.String("session")
	if sessionID == "" {
		session, err := engine.CreateSession(ctx, c.String("user"))
		if err != nil {
			return err
		}
		sessionID = session.ID
	}

	runID, err := engine.SubmitQuery(ctx, core.Query{
		SessionID: sessionID,
		Text:      question,
		Context:   core.QueryContext{Domain: c.String("domain"), Role: c.String("role")},
		Stream:    true,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "session %s run %s\n", sessionID, runID)

	var sources []core.Source
	var streamErr error
	for chunk, err := range engine.GetStream(ctx, runID) {
		if err != nil {
			streamErr = err
			break
		}
		fmt.Fprint(c.App.Writer, chunk.Text)
		if chunk.IsFinal {
			sources = chunk.Sources
		}
	}
	fmt.Fprintln(c.App.Writer)

	if streamErr != nil {
		if errors.Is(streamErr, pipeline.ErrRunEscalated) {
			if ticket, err := engine.Tickets().ForRun(ctx, runID); err == nil {
				fmt.Fprintf(c.App.ErrWriter, "escalated for review: ticket %s (%s)\n", ticket.ID, ticket.Reason)
			}
		}
		return streamErr
	}

	if len(sources) > 0 {
		fmt.Fprintln(c.App.Writer, "\nSources:")
		for i, s := range sources {
			fmt.Fprintf(c.App.Writer, "[%d] %s (%s, score %.2f)\n", i+1, s.Title, s.DocumentID, s.Score)
		}
	}
	return nil
}

func listTicketsCommand(c *cli.Context) error {
	status := core.TicketStatus(c.String("status"))
	switch status {
	case "", core.TicketOpen, core.TicketResolved, core.TicketAbandoned:
	default:
		return fmt.Errorf("invalid status %q: must be one of open, resolved, abandoned", status)
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	tickets, err := engine.Tickets().List(c.Context, status)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		fmt.Fprintln(c.App.Writer, "No tickets")
		return nil
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRUN\tREASON\tSTATUS\tSEEN\tUPDATED")
	for _, t := range tickets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			t.ID, t.RunID, t.Reason, t.Status, t.Occurrences, t.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func resolveTicketCommand(c *cli.Context) error {
	return closeTicket(c, core.TicketResolved)
}

func abandonTicketCommand(c *cli.Context) error {
	return closeTicket(c, core.TicketAbandoned)
}

func closeTicket(c *cli.Context, status core.TicketStatus) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("ticket ID is required")
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	var ticket *core.EscalationTicket
	if status == core.TicketResolved {
		ticket, err = engine.Tickets().Resolve(c.Context, id, c.String("note"))
	} else {
		ticket, err = engine.Tickets().Abandon(c.Context, id, c.String("note"))
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Ticket %s %s\n", ticket.ID, ticket.Status)
	return nil
}

func ledgerCommand(c *cli.Context) error {
	sessionID := c.Args().First()
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	entries, err := engine.Ledger().Entries(c.Context, sessionID)
	if err != nil {
		return err
	}
	total, tokens, err := engine.Ledger().SessionTotal(c.Context, sessionID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tTIER\tMODEL\tPROMPT\tCOMPLETION\tCOST\tOUTCOME")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			e.RunID, e.Tier, e.Model, e.PromptTokens, e.CompletionTokens, e.Cost.StringFixed(6), e.Outcome)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "\nTotal: %s USD over %d runs, %d tokens\n", total.StringFixed(6), len(entries), tokens)
	return nil
}

func configCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.AI.APIToken != "" {
		cfg.AI.APIToken = "********"
	}
	enc := yaml.NewEncoder(c.App.Writer)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
