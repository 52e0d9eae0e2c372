// Package relayctl is the command-line client for the relay HTTP API.
package relayctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/duckmesh/relay/internal/transfer"
)

const (
	defaultProbeTimeout    = 10 * time.Second
	defaultTransferTimeout = 15 * time.Minute
)

var errUsage = errors.New("usage")

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type command struct {
	method  string
	path    string
	body    []byte
	timeout time.Duration
	// render prints a successful response; nil prints indented JSON.
	render func(w io.Writer, body []byte) error
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := writerOr(defaults.Stdout)
	stderr := writerOr(defaults.Stderr)

	fs := flag.NewFlagSet("relayctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "relay API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", defaults.Timeout, "HTTP timeout (default 10s, 15m for run)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	cmd, err := parseCommand(fs.Arg(0), fs.Args()[1:], stderr)
	if err != nil {
		if !errors.Is(err, errUsage) {
			_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
			writeUsage(stderr)
		}
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: durationOr(*timeout, cmd.timeout)}
	}
	endpoint := strings.TrimRight(*baseURL, "/") + cmd.path
	code, body, err := doRequest(ctx, client, cmd.method, endpoint, *apiKey, cmd.body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, describeError(body))
		return 1
	}

	render := cmd.render
	if render == nil {
		render = printJSON
	}
	if err := render(stdout, body); err != nil {
		_, _ = fmt.Fprintf(stderr, "decode response: %v\n", err)
		return 1
	}
	return 0
}

func parseCommand(name string, args []string, stderr io.Writer) (command, error) {
	switch strings.TrimSpace(name) {
	case "health":
		return command{method: http.MethodGet, path: "/v1/health", timeout: defaultProbeTimeout}, nil
	case "ready":
		return command{method: http.MethodGet, path: "/v1/ready", timeout: defaultProbeTimeout}, nil
	case "run":
		return parseRun(args, stderr)
	default:
		return command{}, fmt.Errorf("unknown command %q", name)
	}
}

func parseRun(args []string, stderr io.Writer) (command, error) {
	fs := flag.NewFlagSet("relayctl run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	queryText := fs.String("query", "", "SQL to run instead of the configured query")
	database := fs.String("database", "", "source database override")
	table := fs.String("table", "", "destination table override")
	asJSON := fs.Bool("json", false, "print the transfer summary as JSON")
	if err := fs.Parse(args); err != nil {
		return command{}, errUsage
	}
	if fs.NArg() > 0 {
		return command{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	body, err := json.Marshal(transfer.Request{
		Query:    strings.TrimSpace(*queryText),
		Database: strings.TrimSpace(*database),
		Table:    strings.TrimSpace(*table),
	})
	if err != nil {
		return command{}, fmt.Errorf("encode request: %w", err)
	}
	cmd := command{method: http.MethodPost, path: "/v1/transfers", body: body, timeout: defaultTransferTimeout}
	if !*asJSON {
		cmd.render = printSummary
	}
	return cmd, nil
}

func printSummary(w io.Writer, body []byte) error {
	var summary transfer.Summary
	if err := json.Unmarshal(body, &summary); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, summary.Status)
	_, _ = fmt.Fprintf(w, "query %s %s: %d rows fetched, %d inserted into %s in %s\n",
		summary.QueryID, summary.State, summary.RowsFetched, summary.RowsInserted, summary.Table,
		(time.Duration(summary.DurationMS) * time.Millisecond).String())
	return nil
}

func printJSON(w io.Writer, body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		_, _ = fmt.Fprintln(w, string(body))
		return nil
	}
	_, _ = fmt.Fprintln(w, out.String())
	return nil
}

// describeError renders the API error envelope when the body is one.
func describeError(body []byte) string {
	var envelope struct {
		ErrorCode string         `json:"error_code"`
		Message   string         `json:"message"`
		Context   map[string]any `json:"context"`
		TraceID   string         `json:"trace_id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.ErrorCode == "" {
		return strings.TrimSpace(string(body))
	}
	parts := []string{envelope.ErrorCode}
	if envelope.Message != "" {
		parts = append(parts, envelope.Message)
	}
	if queryID, ok := envelope.Context["query_id"].(string); ok && queryID != "" {
		parts = append(parts, "query_id="+queryID)
	}
	if envelope.TraceID != "" {
		parts = append(parts, "trace_id="+envelope.TraceID)
	}
	return strings.Join(parts, " ")
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(apiKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: relayctl [flags] <command> [command flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health   GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready    GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  run      POST /v1/transfers [-query SQL] [-database DB] [-table TABLE] [-json]")
}

func writerOr(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
