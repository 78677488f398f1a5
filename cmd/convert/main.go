// cmd/convert converts legacy source files into validated target-language
// artifacts through the configured model backend.
//
// Usage:
//   ./convert -source payroll.vb -target-lang CSHARP
//   ./convert -source payroll.vb -target-lang JAVA -output out/Payroll.java
//   ./convert -manifest conversions.yaml -report logs/run_report.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tendant/simple-modernizer/internal/engine"
	"github.com/tendant/simple-modernizer/internal/lang"
	"github.com/tendant/simple-modernizer/internal/llm"
	"github.com/tendant/simple-modernizer/internal/prompt"
)

// Exit codes name the stage that rejected a single-job run. Batch runs
// collapse any failure to 1 so CI only has to check pass or fail.
const (
	exitValidated  = 0
	exitConfig     = 1
	exitGateway    = 2
	exitExtraction = 3
	exitValidation = 4
)

type config struct {
	Source     string
	TargetLang string
	Model      string
	Output     string
	Manifest   string
	ReportPath string
	PromptsDir string
	MaxRetries int
	TimeoutSec int
	Verbose    bool
}

func loadConfig() (config, error) {
	maxRetries, err := parseNonNegativeInt(getenv("CONVERT_MAX_RETRIES", "3"), "CONVERT_MAX_RETRIES")
	if err != nil {
		return config{}, err
	}
	timeoutSec, err := parsePositiveInt(getenv("CONVERT_TIMEOUT_SECONDS", "60"), "CONVERT_TIMEOUT_SECONDS")
	if err != nil {
		return config{}, err
	}

	var cfg config
	flag.StringVar(&cfg.Source, "source", "", "Legacy source file to convert (required unless -manifest is set)")
	flag.StringVar(&cfg.TargetLang, "target-lang", "", "Target language: "+strings.Join(lang.Supported(), " or "))
	flag.StringVar(&cfg.Model, "model", getenv("CONVERT_MODEL", "gpt-4-turbo"), "Model identifier sent to the backend")
	flag.StringVar(&cfg.Output, "output", "", "Artifact path (default src/generated/<source name>)")
	flag.StringVar(&cfg.Manifest, "manifest", "", "YAML manifest describing a batch of conversion jobs")
	flag.StringVar(&cfg.ReportPath, "report", getenv("CONVERT_REPORT", filepath.Join("logs", "run_report.json")), "Run report output path")
	flag.StringVar(&cfg.PromptsDir, "prompts", getenv("PROMPTS_DIR", "prompts"), "Directory holding system_prompt.txt and task_prompt.txt")
	flag.IntVar(&cfg.MaxRetries, "max-retries", maxRetries, "Retries allowed after a transient backend failure")
	flag.IntVar(&cfg.TimeoutSec, "timeout", timeoutSec, "Per-request timeout in seconds")
	flag.BoolVar(&cfg.Verbose, "v", false, "Verbose output")
	flag.Parse()

	if cfg.Source == "" && cfg.Manifest == "" {
		return config{}, fmt.Errorf("either -source or -manifest is required")
	}
	if cfg.Source != "" && cfg.Manifest != "" {
		return config{}, fmt.Errorf("-source and -manifest are mutually exclusive")
	}
	if cfg.Source != "" && cfg.TargetLang == "" {
		return config{}, fmt.Errorf("-target-lang is required with -source")
	}
	if cfg.MaxRetries < 0 {
		return config{}, fmt.Errorf("-max-retries must not be negative, got %d", cfg.MaxRetries)
	}
	if cfg.TimeoutSec <= 0 {
		return config{}, fmt.Errorf("-timeout must be a positive number of seconds, got %d", cfg.TimeoutSec)
	}
	return cfg, nil
}

func main() {
	// Load .env file if present (for local development)
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(exitConfig)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		fatal(logger, "missing configuration", fmt.Errorf("LLM_API_KEY is not set"))
	}

	// Templates and job targets resolve before any network call so a
	// misconfigured run never burns backend quota.
	templates, err := prompt.LoadTemplates(cfg.PromptsDir)
	if err != nil {
		fatal(logger, "load prompt templates", err)
	}

	jobs, err := buildJobs(cfg)
	if err != nil {
		fatal(logger, "resolve conversion jobs", err)
	}

	client := llm.NewClient(llm.Config{
		APIKey:  apiKey,
		BaseURL: os.Getenv("LLM_ENDPOINT"),
		Model:   cfg.Model,
		Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		Retry: llm.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  time.Second,
			MaxDelay:   10 * time.Second,
		},
		Logger: logger,
	})

	eng := &engine.Engine{
		Templates: templates,
		Gateway:   client,
		RunID:     runID(),
		Logger:    logger,
	}

	logger.Info("starting conversion run",
		"run_id", eng.RunID,
		"jobs", len(jobs),
		"model", cfg.Model,
		"max_retries", cfg.MaxRetries)

	report, err := eng.Run(context.Background(), jobs, loadSource, emitArtifact)
	if err != nil {
		fatal(logger, "conversion run aborted", err)
	}

	for _, outcome := range report.Outcomes {
		printOutcome(outcome)
		if outcome.State != engine.StateValidated {
			writeFailureLog(logger, outcome)
		}
	}

	if err := writeReport(cfg.ReportPath, report); err != nil {
		fatal(logger, "write run report", err)
	}

	validated, rejected := report.Counts()
	logger.Info("run report written",
		"path", cfg.ReportPath,
		"validated", validated,
		"rejected", rejected)

	os.Exit(exitCode(report))
}

// buildJobs resolves every target language up front so a bad manifest entry
// fails the run before any network call.
func buildJobs(cfg config) ([]*engine.Job, error) {
	if cfg.Manifest == "" {
		target, err := lang.Get(cfg.TargetLang)
		if err != nil {
			return nil, err
		}
		job := engine.NewJob(cfg.Source, target, cfg.Model)
		job.OutputPath = cfg.Output
		return []*engine.Job{job}, nil
	}

	m, err := loadManifest(cfg.Manifest)
	if err != nil {
		return nil, err
	}

	jobs := make([]*engine.Job, 0, len(m.Jobs))
	for i, entry := range m.Jobs {
		if entry.Source == "" {
			return nil, fmt.Errorf("manifest job %d: source is required", i+1)
		}
		target, err := lang.Get(entry.TargetLang)
		if err != nil {
			return nil, fmt.Errorf("manifest job %d (%s): %w", i+1, entry.Source, err)
		}
		model := entry.Model
		if model == "" {
			model = cfg.Model
		}
		job := engine.NewJob(entry.Source, target, model)
		job.OutputPath = entry.Output
		jobs = append(jobs, job)
	}
	return jobs, nil
}

type manifest struct {
	Jobs []manifestJob `yaml:"jobs"`
}

type manifestJob struct {
	Source     string `yaml:"source"`
	TargetLang string `yaml:"target_lang"`
	Model      string `yaml:"model"`
	Output     string `yaml:"output"`
}

func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if len(m.Jobs) == 0 {
		return nil, fmt.Errorf("manifest %s lists no jobs", path)
	}
	return &m, nil
}

// loadSource reads the legacy source for a job from disk.
func loadSource(job *engine.Job) (string, error) {
	data, err := os.ReadFile(job.SourcePath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// emitArtifact writes a validated artifact to the job's output path,
// defaulting to src/generated/ with the target language extension.
func emitArtifact(job *engine.Job, artifact *engine.Artifact) (string, error) {
	out := job.OutputPath
	if out == "" {
		out = filepath.Join("src", "generated", job.Target.ArtifactName(job.SourcePath))
	}
	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	if err := os.WriteFile(out, []byte(artifact.Code), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

func printOutcome(o engine.Outcome) {
	if o.State == engine.StateValidated {
		fmt.Printf("✅ %s -> %s (%s, %d attempt(s), %dms)\n",
			o.SourcePath, o.ArtifactPath, o.TargetLang, o.Attempts, o.LatencyMs)
		return
	}
	fmt.Printf("❌ %s failed at %s: %s\n", o.SourcePath, o.FailedStage, o.Reason)
	for _, v := range o.Violations {
		fmt.Printf("  • %s: %s\n", v.Check, v.Detail)
	}
}

// writeFailureLog records a rejected job under logs/ so a failure can be
// inspected after the run report is rotated.
func writeFailureLog(logger *slog.Logger, o engine.Outcome) {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		logger.Warn("create logs directory", "error", err)
		return
	}

	base := filepath.Base(o.SourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." {
		stem = "job"
	}
	path := filepath.Join("logs", "failed_"+stem+".log")

	var b strings.Builder
	fmt.Fprintf(&b, "source: %s\n", o.SourcePath)
	fmt.Fprintf(&b, "target_lang: %s\n", o.TargetLang)
	fmt.Fprintf(&b, "failed_stage: %s\n", o.FailedStage)
	fmt.Fprintf(&b, "reason: %s\n", o.Reason)
	if o.FailureKind != "" {
		fmt.Fprintf(&b, "failure_kind: %s\n", o.FailureKind)
	}
	if o.Attempts > 0 {
		fmt.Fprintf(&b, "attempts: %d\n", o.Attempts)
	}
	for _, v := range o.Violations {
		fmt.Fprintf(&b, "violation: %s: %s\n", v.Check, v.Detail)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		logger.Warn("write failure log", "path", path, "error", err)
		return
	}
	logger.Info("failure log written", "path", path)
}

func writeReport(path string, report *engine.Report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// exitCode maps a finished run to its process exit code.
func exitCode(report *engine.Report) int {
	if report.Passed() {
		return exitValidated
	}
	if len(report.Outcomes) != 1 {
		return exitConfig
	}
	return stageExitCode(report.Outcomes[0].FailedStage)
}

func stageExitCode(stage engine.State) int {
	switch stage {
	case engine.StateInvoking:
		return exitGateway
	case engine.StateExtracting:
		return exitExtraction
	case engine.StateValidating:
		return exitValidation
	default:
		return exitConfig
	}
}

// runID identifies the run in artifact headers. CI exposes its own run id;
// local runs share a fixed one so reruns produce identical headers.
func runID() string {
	if v := os.Getenv("PIPELINE_RUN_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GITHUB_RUN_ID"); v != "" {
		return v
	}
	return "local"
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(exitConfig)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parsePositiveInt(raw, name string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return v, nil
}

func parseNonNegativeInt(raw, name string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, raw)
	}
	return v, nil
}
