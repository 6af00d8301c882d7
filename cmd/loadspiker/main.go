// Command loadspiker is the example CLI entry point for the loadspiker
// engine: a thin wiring layer over the root loadspiker.Engine facade, built
// from the flag package and a signal.NotifyContext-cancelled context.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ecamuto/LoadSpiker"
	"github.com/ecamuto/LoadSpiker/internal/vu"
)

// headerFlags collects repeated -H "Key: value" flags into a header map.
type headerFlags map[string]string

func (h headerFlags) String() string {
	parts := make([]string, 0, len(h))
	for k, v := range h {
		parts = append(parts, k+": "+v)
	}
	return strings.Join(parts, ", ")
}

func (h headerFlags) Set(raw string) error {
	key, value, ok := strings.Cut(raw, ":")
	if !ok {
		return fmt.Errorf("header %q is not in \"Key: value\" form", raw)
	}
	h[strings.TrimSpace(key)] = strings.TrimSpace(value)
	return nil
}

// runConfig is the shape accepted by --config: a full run description,
// scenario included, so a run can be reproduced without any other flags.
type runConfig struct {
	Scenario        *loadspiker.Scenario `json:"scenario"`
	Users           int                  `json:"users"`
	DurationSeconds int                  `json:"duration_seconds"`
	RampUpSeconds   int                  `json:"ramp_up_seconds"`
	Pattern         string               `json:"pattern"`
	MaxConnections  int                  `json:"max_connections"`
	Threads         int                  `json:"threads"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("loadspiker", flag.ContinueOnError)
	fs.SetOutput(stderr)

	scenarioPath := fs.String("scenario", "", "Path to a scenario JSON file")
	configPath := fs.String("config", "", "Path to a full run config JSON file (scenario + run parameters)")
	interactive := fs.Bool("interactive", false, "Drop into an interactive request prompt instead of running a scenario")

	users := fs.Int("users", 1, "Number of virtual users")
	duration := fs.Int("duration", 10, "Run duration in seconds")
	rampUp := fs.Int("ramp-up", 0, "Ramp-up duration in seconds")
	pattern := fs.String("pattern", "", `Load pattern, e.g. "constant:50:120", "ramp:1:200:60", "spike:20:500:30:60"`)

	maxConnections := fs.Int("max-connections", 100, "Maximum pooled connections")
	threads := fs.Int("threads", 0, "Worker thread ceiling (0 = unbounded)")

	method := fs.String("method", "GET", "HTTP method for a bare URL run")
	headers := headerFlags{}
	fs.Var(headers, "H", `Request header "Key: value" (repeatable)`)
	requestBody := fs.String("b", "", "Request body for a bare URL run")
	timeoutMs := fs.Int("t", 30000, "Per-request timeout in milliseconds")

	jsonPath := fs.String("json", "", "Write the final metrics snapshot as JSON to this path")
	htmlPath := fs.String("html", "", "Write an HTML summary report to this path")
	quiet := fs.Bool("quiet", false, "Suppress console output other than errors")
	noProgress := fs.Bool("no-progress", false, "Do not print periodic progress while the run is in flight")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	modes := 0
	for _, set := range []bool{*scenarioPath != "", *configPath != "", *interactive, fs.NArg() > 0} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		fmt.Fprintln(stderr, "loadspiker: specify exactly one of a positional URL, --scenario, --config, or --interactive")
		return 1
	}

	cfg := loadspiker.DefaultConfig()
	cfg.MaxConnections = *maxConnections
	cfg.WorkerThreads = *threads

	var scn *loadspiker.Scenario
	runUsers, runDuration, runRampUp := *users, time.Duration(*duration)*time.Second, time.Duration(*rampUp)*time.Second
	runPattern := *pattern

	switch {
	case *configPath != "":
		rc, err := loadRunConfig(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "loadspiker: %v\n", err)
			return 1
		}
		scn = rc.Scenario
		runUsers, runDuration, runRampUp = rc.Users, time.Duration(rc.DurationSeconds)*time.Second, time.Duration(rc.RampUpSeconds)*time.Second
		runPattern = rc.Pattern
		if rc.MaxConnections > 0 {
			cfg.MaxConnections = rc.MaxConnections
		}
		cfg.WorkerThreads = rc.Threads

	case *scenarioPath != "":
		loaded, err := loadScenario(*scenarioPath)
		if err != nil {
			fmt.Fprintf(stderr, "loadspiker: %v\n", err)
			return 1
		}
		scn = loaded

	case *interactive:
		// handled below, after the engine is built.

	default:
		scn = &loadspiker.Scenario{
			Name: "cli",
			Operations: []loadspiker.Operation{{
				Kind: loadspiker.KindHTTPRequest,
				HTTP: &loadspiker.HTTPOp{
					URL: fs.Arg(0), Method: *method, Headers: map[string]string(headers),
					Body: *requestBody, Timeout: time.Duration(*timeoutMs) * time.Millisecond,
				},
			}},
		}
	}

	engine, err := loadspiker.NewWithConfig(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "loadspiker: %v\n", err)
		return 1
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *interactive {
		runInteractive(ctx, engine, stdout, stderr)
		printSnapshot(engine.GetMetrics(), stdout, stderr, *jsonPath, *htmlPath, *quiet)
		return exitCode(ctx)
	}

	if !*quiet && !*noProgress {
		progressCtx, cancelProgress := context.WithCancel(ctx)
		defer cancelProgress()
		go reportProgress(progressCtx, engine, stdout)
	}

	var snapshot loadspiker.MetricsSnapshot
	if runPattern != "" {
		p, err := vu.ParsePattern(runPattern)
		if err != nil {
			fmt.Fprintf(stderr, "loadspiker: %v\n", err)
			return 1
		}
		plan := p.Plan()
		var total time.Duration
		for _, stage := range plan.Stages {
			total += stage.Duration
		}
		snapshot, err = engine.RunPlan(ctx, scn, plan, total)
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(stderr, "loadspiker: %v\n", err)
			return 1
		}
	} else {
		snapshot, err = engine.RunScenario(ctx, scn, runUsers, runDuration, runRampUp)
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(stderr, "loadspiker: %v\n", err)
			return 1
		}
	}

	printSnapshot(snapshot, stdout, stderr, *jsonPath, *htmlPath, *quiet)
	return exitCode(ctx)
}

func exitCode(ctx context.Context) int {
	if ctx.Err() != nil {
		return 130
	}
	return 0
}

func loadScenario(path string) (*loadspiker.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	var scn loadspiker.Scenario
	if err := json.Unmarshal(data, &scn); err != nil {
		return nil, fmt.Errorf("parsing scenario file: %w", err)
	}
	return &scn, nil
}

func loadRunConfig(path string) (*runConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var rc runConfig
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if rc.Scenario == nil {
		return nil, fmt.Errorf("config file %s has no scenario", path)
	}
	return &rc, nil
}

// reportProgress prints the engine's cumulative snapshot once a second until
// ctx is done. It is best-effort console feedback, not a reporter.
func reportProgress(ctx context.Context, engine *loadspiker.Engine, stdout io.Writer) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := engine.GetMetrics()
			fmt.Fprintf(stdout, "\r%d requests, %.1f%% success, %.0f req/s", snap.TotalRequests, snap.SuccessRate, snap.RequestsPerSecond)
		}
	}
}

func printSnapshot(snap loadspiker.MetricsSnapshot, stdout, stderr io.Writer, jsonPath, htmlPath string, quiet bool) {
	if !quiet {
		fmt.Fprintf(stdout, "\ntotal_requests=%d successful=%d failed=%d avg_response_time_ms=%.2f requests_per_second=%.2f\n",
			snap.TotalRequests, snap.SuccessfulRequests, snap.FailedRequests, snap.AvgResponseTimeMs, snap.RequestsPerSecond)
	}
	if jsonPath != "" {
		if err := writeJSONReport(snap, jsonPath); err != nil {
			fmt.Fprintf(stderr, "loadspiker: writing json report: %v\n", err)
		}
	}
	if htmlPath != "" {
		if err := writeHTMLReport(snap, htmlPath); err != nil {
			fmt.Fprintf(stderr, "loadspiker: writing html report: %v\n", err)
		}
	}
}

func writeJSONReport(snap loadspiker.MetricsSnapshot, path string) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

const htmlReportTemplate = `<!DOCTYPE html>
<html><head><title>loadspiker run report</title></head>
<body>
<h1>loadspiker run report</h1>
<table border="1" cellpadding="4">
<tr><th>total_requests</th><td>%d</td></tr>
<tr><th>successful_requests</th><td>%d</td></tr>
<tr><th>failed_requests</th><td>%d</td></tr>
<tr><th>success_rate</th><td>%.2f%%</td></tr>
<tr><th>avg_response_time_ms</th><td>%.2f</td></tr>
<tr><th>min_response_time_ms</th><td>%.2f</td></tr>
<tr><th>max_response_time_ms</th><td>%.2f</td></tr>
<tr><th>requests_per_second</th><td>%.2f</td></tr>
</table>
</body></html>
`

func writeHTMLReport(snap loadspiker.MetricsSnapshot, path string) error {
	body := fmt.Sprintf(htmlReportTemplate,
		snap.TotalRequests, snap.SuccessfulRequests, snap.FailedRequests, snap.SuccessRate,
		snap.AvgResponseTimeMs, snap.MinResponseTimeMs, snap.MaxResponseTimeMs, snap.RequestsPerSecond)
	return os.WriteFile(path, []byte(body), 0o644)
}

// runInteractive reads "METHOD URL" lines from stdin, issues each as a
// direct execute_request call, and prints the resulting outcome as JSON.
// A blank line or EOF ends the session.
func runInteractive(ctx context.Context, engine *loadspiker.Engine, stdout, stderr io.Writer) {
	fmt.Fprintln(stdout, "loadspiker interactive mode. Enter \"METHOD URL\", blank line to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return
		}
		if ctx.Err() != nil {
			return
		}

		method, url, ok := strings.Cut(line, " ")
		if !ok {
			method, url = http.MethodGet, line
		}
		outcome, err := engine.ExecuteRequest(ctx, url, strings.ToUpper(method), nil, nil, 30000)
		if err != nil {
			fmt.Fprintf(stderr, "loadspiker: %v\n", err)
			continue
		}
		data, _ := json.MarshalIndent(outcome, "", "  ")
		fmt.Fprintln(stdout, string(data))
	}
}
