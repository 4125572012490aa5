package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poiesic/ragflow"
	"github.com/poiesic/ragflow/ai/mock"
	"github.com/poiesic/ragflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// useMockEngine makes commands answer with chunks instead of calling a model.
func useMockEngine(t *testing.T, chunks ...string) {
	t.Helper()
	orig := newEngine
	newEngine = func(cfg *config.Config) (*ragflow.Engine, error) {
		provider := mock.NewMockProviderWithServices(mock.NewMockEmbedder(), mock.NewMockGenerator(chunks...), mock.NewMockJudge())
		return ragflow.NewEngine(cfg, ragflow.WithProvider(provider))
	}
	t.Cleanup(func() { newEngine = orig })
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ragflow.yaml")
	data := fmt.Sprintf("storage:\n  path: %s\ncost:\n  tokenizer: heuristic\npipeline:\n  retry_backoff: 5ms\n",
		filepath.Join(dir, "db"))
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

func run(args ...string) (string, string, error) {
	app := newApp()
	var stdout, stderr bytes.Buffer
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.Run(append([]string{"ragflow"}, args...))
	return stdout.String(), stderr.String(), err
}

func TestIngestAndAsk(t *testing.T) {
	useMockEngine(t, "The maximum daily dose ", "of ibuprofen is 1200 mg [1].")
	cfgPath := writeConfig(t)

	doc := filepath.Join(t.TempDir(), "ibuprofen.txt")
	require.NoError(t, os.WriteFile(doc, []byte("The maximum daily dose of ibuprofen is 1200 mg."), 0644))

	out, _, err := run("-c", cfgPath, "ingest", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "Ingested 1 documents as 1 chunks")
	assert.Contains(t, out, "Store holds 1 chunks, 1 embedded")

	out, errOut, err := run("-c", cfgPath, "ask", "What is the maximum daily dose of ibuprofen?")
	require.NoError(t, err)
	assert.Contains(t, out, "The maximum daily dose of ibuprofen is 1200 mg [1].")
	assert.Contains(t, out, "[1] ibuprofen (")

	var sessionID, runID string
	_, err = fmt.Sscanf(errOut, "session %s run %s", &sessionID, &runID)
	require.NoError(t, err)

	out, _, err = run("-c", cfgPath, "ledger", sessionID)
	require.NoError(t, err)
	assert.Contains(t, out, runID)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "over 1 runs")

	out, _, err = run("-c", cfgPath, "tickets", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No tickets")
}

func TestAskEscalation(t *testing.T) {
	useMockEngine(t, "The record for SSN ", "123-45-6789 shows 1200 mg.")
	cfgPath := writeConfig(t)

	out, errOut, err := run("-c", cfgPath, "ask", "Show the patient record")
	require.Error(t, err)
	assert.NotContains(t, out, "123-45-6789")
	require.Contains(t, errOut, "escalated for review: ticket ")

	rest := errOut[strings.Index(errOut, "ticket ")+len("ticket "):]
	ticketID := strings.Fields(rest)[0]

	out, _, err = run("-c", cfgPath, "tickets", "list", "--status", "open")
	require.NoError(t, err)
	assert.Contains(t, out, ticketID)
	assert.Contains(t, out, "compliance_fail")

	out, _, err = run("-c", cfgPath, "tickets", "resolve", "--note", "reviewed", ticketID)
	require.NoError(t, err)
	assert.Contains(t, out, "resolved")

	_, _, err = run("-c", cfgPath, "tickets", "abandon", ticketID)
	assert.Error(t, err)

	out, _, err = run("-c", cfgPath, "tickets", "list", "--status", "open")
	require.NoError(t, err)
	assert.Contains(t, out, "No tickets")
}

func TestReembed(t *testing.T) {
	useMockEngine(t, "ok")
	cfgPath := writeConfig(t)

	dir := t.TempDir()
	for _, name := range []string{"aspirin.txt", "warfarin.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("Dosage notes for "+name), 0644))
	}
	_, _, err := run("-c", cfgPath, "ingest", filepath.Join(dir, "aspirin.txt"), filepath.Join(dir, "warfarin.txt"))
	require.NoError(t, err)

	_, errOut, err := run("-c", cfgPath, "reembed", "--batch-size", "1", "--retry-delay", "1ms")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Starting reembedding of 2 chunks (batch size: 1)")
	assert.Contains(t, errOut, "Reembedding complete. Embedded 2 chunks")

	_, errOut, err = run("-c", cfgPath, "reembed", "--only-missing", "--resume")
	require.NoError(t, err)
	assert.Contains(t, errOut, "All 2 chunks already embedded")

	_, _, err = run("-c", cfgPath, "reembed", "--batch-size", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch-size")
}

func TestCommandValidation(t *testing.T) {
	useMockEngine(t, "ok")
	cfgPath := writeConfig(t)

	t.Run("ingest needs files", func(t *testing.T) {
		_, _, err := run("-c", cfgPath, "ingest")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "file")
	})

	t.Run("ingest reports unreadable files", func(t *testing.T) {
		_, _, err := run("-c", cfgPath, "ingest", filepath.Join(t.TempDir(), "missing.txt"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing.txt")
	})

	t.Run("ask needs a question", func(t *testing.T) {
		_, _, err := run("-c", cfgPath, "ask", "  ")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "question")
	})

	t.Run("ledger needs a session", func(t *testing.T) {
		_, _, err := run("-c", cfgPath, "ledger")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "session")
	})

	t.Run("tickets rejects unknown status", func(t *testing.T) {
		_, _, err := run("-c", cfgPath, "tickets", "list", "--status", "pending")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid status")
	})

	t.Run("missing config file", func(t *testing.T) {
		_, _, err := run("-c", filepath.Join(t.TempDir(), "nope.yaml"), "config")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load configuration")
	})
}

func TestConfigCommand(t *testing.T) {
	cfgPath := writeConfig(t)
	t.Setenv("RAGFLOW_API_TOKEN", "secret-token")

	out, _, err := run("-c", cfgPath, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "tokenizer: heuristic")
	assert.Contains(t, out, "retry_backoff: 5ms")
	assert.NotContains(t, out, "secret-token")

	cfg, err := config.Parse([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "heuristic", cfg.Cost.Tokenizer)
}

func TestSetupLogger(t *testing.T) {
	t.Run("valid log levels", func(t *testing.T) {
		testCases := []struct {
			input    string
			expected slog.Level
		}{
			{"debug", slog.LevelDebug},
			{"info", slog.LevelInfo},
			{"warn", slog.LevelWarn},
			{"error", slog.LevelError},
		}

		for _, tc := range testCases {
			t.Run(tc.input, func(t *testing.T) {
				app := &cli.App{
					Name: "test",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:  "log-level",
							Value: tc.input,
						},
					},
					Before: setupLogger,
					Action: func(c *cli.Context) error {
						assert.True(t, slog.Default().Enabled(c.Context, tc.expected))
						return nil
					},
				}

				err := app.Run([]string{"test", "--log-level", tc.input})
				require.NoError(t, err)
			})
		}
	})

	t.Run("case insensitive log levels", func(t *testing.T) {
		for _, tc := range []string{"DEBUG", "Info", "WaRn", "ERROR"} {
			t.Run(tc, func(t *testing.T) {
				app := &cli.App{
					Name: "test",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:  "log-level",
							Value: "info",
						},
					},
					Before: setupLogger,
					Action: func(c *cli.Context) error {
						return nil
					},
				}

				err := app.Run([]string{"test", "--log-level", tc})
				require.NoError(t, err)
			})
		}
	})

	t.Run("invalid log level returns error", func(t *testing.T) {
		_, _, err := run("--log-level", "invalid", "config")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("log-level flag has alias -l", func(t *testing.T) {
		app := newApp()
		app.Commands = nil
		app.Action = func(c *cli.Context) error {
			assert.Equal(t, "debug", c.String("log-level"))
			return nil
		}
		require.NoError(t, app.Run([]string{"ragflow", "-l", "debug"}))
	})
}
