package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tendant/simple-modernizer/internal/engine"
	"github.com/tendant/simple-modernizer/internal/lang"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conversions.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestBuildJobsSingle(t *testing.T) {
	cfg := config{
		Source:     "legacy/payroll.vb",
		TargetLang: "csharp",
		Model:      "gpt-4-turbo",
		Output:     "out/Payroll.cs",
	}

	jobs, err := buildJobs(cfg)
	if err != nil {
		t.Fatalf("buildJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}

	job := jobs[0]
	if job.SourcePath != "legacy/payroll.vb" {
		t.Errorf("SourcePath = %q", job.SourcePath)
	}
	if job.Target.Name != "CSHARP" {
		t.Errorf("Target.Name = %q, want CSHARP", job.Target.Name)
	}
	if job.Model != "gpt-4-turbo" {
		t.Errorf("Model = %q", job.Model)
	}
	if job.OutputPath != "out/Payroll.cs" {
		t.Errorf("OutputPath = %q", job.OutputPath)
	}
	if job.State != engine.StatePending {
		t.Errorf("State = %q, want %q", job.State, engine.StatePending)
	}
}

func TestBuildJobsSingleUnknownLanguage(t *testing.T) {
	cfg := config{Source: "payroll.vb", TargetLang: "COBOL", Model: "gpt-4-turbo"}
	if _, err := buildJobs(cfg); err == nil {
		t.Fatal("expected error for unsupported target language")
	}
}

func TestBuildJobsManifest(t *testing.T) {
	path := writeManifest(t, `
jobs:
  - source: legacy/payroll.vb
    target_lang: CSHARP
    output: out/Payroll.cs
  - source: legacy/invoice.vb
    target_lang: java
    model: gpt-4o
`)

	cfg := config{Manifest: path, Model: "gpt-4-turbo"}
	jobs, err := buildJobs(cfg)
	if err != nil {
		t.Fatalf("buildJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}

	if jobs[0].Target.Name != "CSHARP" || jobs[0].OutputPath != "out/Payroll.cs" {
		t.Errorf("job 0 = %+v", jobs[0])
	}
	if jobs[0].Model != "gpt-4-turbo" {
		t.Errorf("job 0 model = %q, want default gpt-4-turbo", jobs[0].Model)
	}
	if jobs[1].Target.Name != "JAVA" {
		t.Errorf("job 1 target = %q, want JAVA", jobs[1].Target.Name)
	}
	if jobs[1].Model != "gpt-4o" {
		t.Errorf("job 1 model = %q, want manifest override gpt-4o", jobs[1].Model)
	}
}

func TestBuildJobsManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no jobs", "jobs: []\n", "no jobs"},
		{"missing source", "jobs:\n  - target_lang: CSHARP\n", "source is required"},
		{"bad language", "jobs:\n  - source: a.vb\n    target_lang: COBOL\n", "unsupported target language"},
		{"bad yaml", "jobs: [\n", "parse manifest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config{Manifest: writeManifest(t, tt.body), Model: "gpt-4-turbo"}
			_, err := buildJobs(cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestBuildJobsManifestMissingFile(t *testing.T) {
	cfg := config{Manifest: filepath.Join(t.TempDir(), "nope.yaml"), Model: "gpt-4-turbo"}
	if _, err := buildJobs(cfg); err == nil {
		t.Fatal("expected error for missing manifest")
	}
}

func TestEmitArtifactDefaultPath(t *testing.T) {
	t.Chdir(t.TempDir())

	target, err := lang.Get("CSHARP")
	if err != nil {
		t.Fatalf("lang.Get: %v", err)
	}
	job := engine.NewJob("legacy/calculator.vb", target, "gpt-4-turbo")

	path, err := emitArtifact(job, &engine.Artifact{Code: "// stamped\npublic class Calculator {}\n"})
	if err != nil {
		t.Fatalf("emitArtifact: %v", err)
	}
	if want := filepath.Join("src", "generated", "calculator.cs"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !strings.Contains(string(data), "public class Calculator") {
		t.Errorf("artifact content = %q", data)
	}
}

func TestEmitArtifactExplicitOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "Calculator.cs")

	target, err := lang.Get("CSHARP")
	if err != nil {
		t.Fatalf("lang.Get: %v", err)
	}
	job := engine.NewJob("calculator.vb", target, "gpt-4-turbo")
	job.OutputPath = out

	path, err := emitArtifact(job, &engine.Artifact{Code: "code"})
	if err != nil {
		t.Fatalf("emitArtifact: %v", err)
	}
	if path != out {
		t.Errorf("path = %q, want %q", path, out)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("artifact not written: %v", err)
	}
}

func TestExitCode(t *testing.T) {
	validated := engine.Outcome{State: engine.StateValidated}

	tests := []struct {
		name     string
		outcomes []engine.Outcome
		want     int
	}{
		{"all validated", []engine.Outcome{validated, validated}, exitValidated},
		{"single gateway failure", []engine.Outcome{{State: engine.StateRejected, FailedStage: engine.StateInvoking}}, exitGateway},
		{"single extraction failure", []engine.Outcome{{State: engine.StateRejected, FailedStage: engine.StateExtracting}}, exitExtraction},
		{"single validation failure", []engine.Outcome{{State: engine.StateRejected, FailedStage: engine.StateValidating}}, exitValidation},
		{"single load failure", []engine.Outcome{{State: engine.StateRejected, FailedStage: engine.StateAssembling}}, exitConfig},
		{"batch collapses to one", []engine.Outcome{validated, {State: engine.StateRejected, FailedStage: engine.StateValidating}}, exitConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := &engine.Report{Outcomes: tt.outcomes}
			if got := exitCode(report); got != tt.want {
				t.Errorf("exitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRunID(t *testing.T) {
	t.Setenv("PIPELINE_RUN_ID", "")
	t.Setenv("GITHUB_RUN_ID", "")
	if got := runID(); got != "local" {
		t.Errorf("runID = %q, want local", got)
	}

	t.Setenv("GITHUB_RUN_ID", "98765")
	if got := runID(); got != "98765" {
		t.Errorf("runID = %q, want 98765", got)
	}

	t.Setenv("PIPELINE_RUN_ID", "run-42")
	if got := runID(); got != "run-42" {
		t.Errorf("runID = %q, want PIPELINE_RUN_ID to win", got)
	}
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run_report.json")
	report := &engine.Report{
		RunID:   "run-7",
		Verdict: engine.VerdictFail,
		Outcomes: []engine.Outcome{
			{SourcePath: "a.vb", State: engine.StateValidated},
			{SourcePath: "b.vb", State: engine.StateRejected, FailedStage: engine.StateValidating},
		},
	}

	if err := writeReport(path, report); err != nil {
		t.Fatalf("writeReport: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}

	// Consumers read the verdict straight off the JSON, so check the
	// serialized key rather than a struct round trip.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	v, ok := raw["verdict"]
	if !ok {
		t.Error("serialized report has no verdict key")
	} else if string(v) != `"fail"` {
		t.Errorf("verdict = %s, want %q", v, "fail")
	}

	var got engine.Report
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if got.RunID != "run-7" || got.Verdict != engine.VerdictFail || len(got.Outcomes) != 2 {
		t.Errorf("report round trip = %+v", got)
	}
}

func TestWriteFailureLog(t *testing.T) {
	t.Chdir(t.TempDir())

	writeFailureLog(quietLogger(), engine.Outcome{
		SourcePath:  "legacy/payroll.vb",
		TargetLang:  "CSHARP",
		State:       engine.StateRejected,
		FailedStage: engine.StateValidating,
		Reason:      "structural validation failed",
	})

	data, err := os.ReadFile(filepath.Join("logs", "failed_payroll.log"))
	if err != nil {
		t.Fatalf("read failure log: %v", err)
	}
	for _, want := range []string{"source: legacy/payroll.vb", "failed_stage: validating", "reason: structural validation failed"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("failure log missing %q:\n%s", want, data)
		}
	}
}
