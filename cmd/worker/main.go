//go:build nats

// cmd/worker/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	simplecontent "github.com/tendant/simple-content/pkg/simplecontent"
	simpleconfig "github.com/tendant/simple-content/pkg/simplecontent/config"

	"github.com/tendant/simple-modernizer/internal/bus"
	"github.com/tendant/simple-modernizer/internal/engine"
	"github.com/tendant/simple-modernizer/internal/lang"
	"github.com/tendant/simple-modernizer/internal/llm"
	"github.com/tendant/simple-modernizer/internal/prompt"
	"github.com/tendant/simple-modernizer/internal/upload"
	"github.com/tendant/simple-modernizer/pkg/schema"
)

type config struct {
	NATSURL        string
	JobSubject     string
	WorkerQueue    string
	ResultSubject  string
	PromptsDir     string
	Model          string
	MaxRetries     int
	RequestTimeout time.Duration
	JobTimeout     time.Duration
}

func loadSimpleContentConfig() (*simpleconfig.ServerConfig, error) {
	opts := []simpleconfig.Option{
		simpleconfig.WithDatabase(getenv("DATABASE_TYPE", "postgres"), getenv("DATABASE_URL", "")),
		simpleconfig.WithDatabaseSchema(getenv("DATABASE_SCHEMA", "content")),
		simpleconfig.WithDefaultStorage(getenv("DEFAULT_STORAGE_BACKEND", "s3")),
	}

	// Configure storage backend
	switch getenv("DEFAULT_STORAGE_BACKEND", "s3") {
	case "s3":
		opts = append(opts, simpleconfig.WithS3StorageFull(
			"s3",
			getenv("AWS_S3_BUCKET", "xchangeai-content"),
			getenv("AWS_S3_REGION", "us-east-1"),
			getenv("AWS_ACCESS_KEY_ID", ""),
			getenv("AWS_SECRET_ACCESS_KEY", ""),
			getenv("AWS_S3_ENDPOINT", ""),
			getenvBool("AWS_S3_USE_SSL", false),
			getenvBool("AWS_S3_USE_PATH_STYLE", true),
		))
	case "memory":
		opts = append(opts, simpleconfig.WithMemoryStorage("memory"))
	}

	// Service options
	opts = append(opts,
		simpleconfig.WithEventLogging(false),
		simpleconfig.WithStorageDelegatedURLs(),
	)

	return simpleconfig.Load(opts...)
}

func getenvBool(key string, defaultValue bool) bool {
	val := getenv(key, "")
	if val == "" {
		return defaultValue
	}
	return val == "true"
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := LoadConfig()
	if err != nil {
		fatal(logger, "load config", err)
	}
	logger.Info("worker starting", "nats_url", cfg.NATSURL, "job_subject", cfg.JobSubject, "queue", cfg.WorkerQueue, "result_subject", cfg.ResultSubject, "model", cfg.Model, "max_retries", cfg.MaxRetries)

	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		fatal(logger, "missing configuration", fmt.Errorf("LLM_API_KEY is not set"))
	}

	// Templates load once at boot so a broken prompts directory stops the
	// worker instead of rejecting every job it picks up.
	templates, err := prompt.LoadTemplates(cfg.PromptsDir)
	if err != nil {
		fatal(logger, "load prompt templates", err, "prompts_dir", cfg.PromptsDir)
	}
	logger.Info("prompt templates loaded", "prompts_dir", cfg.PromptsDir, "prompt_hash", templates.Hash)

	contentCfg, err := loadSimpleContentConfig()
	if err != nil {
		fatal(logger, "load simplecontent config", err)
	}
	backendSummaries := make([]string, 0, len(contentCfg.StorageBackends))
	for _, b := range contentCfg.StorageBackends {
		backendSummaries = append(backendSummaries, fmt.Sprintf("%s(%s)", b.Name, b.Type))
	}
	logger.Info("loaded simplecontent config", "default_backend", contentCfg.DefaultStorageBackend, "storage_backends", backendSummaries)
	logger.Info("simplecontent metadata repository", "database_type", contentCfg.DatabaseType, "schema", contentCfg.DBSchema, "has_database_url", contentCfg.DatabaseURL != "")

	contentSvc, err := contentCfg.BuildService()
	if err != nil {
		fatal(logger, "build simplecontent service", err)
	}
	logger.Info("simplecontent service ready", "backend", contentCfg.DefaultStorageBackend)

	uploader := upload.NewClient(contentSvc, contentCfg.DefaultStorageBackend)

	// One shared gateway keeps a single request in flight across every job
	// this worker handles.
	gateway := llm.NewClient(llm.Config{
		APIKey:  apiKey,
		BaseURL: os.Getenv("LLM_ENDPOINT"),
		Model:   cfg.Model,
		Timeout: cfg.RequestTimeout,
		Retry: llm.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  time.Second,
			MaxDelay:   10 * time.Second,
		},
		Logger: logger,
	})

	nc, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
	}
	logger.Info("connected to NATS", "nats_url", cfg.NATSURL)
	defer nc.Close()

	_, err = nc.QueueSubscribeJSON(cfg.JobSubject, cfg.WorkerQueue, cfg.JobTimeout, func(jobCtx context.Context, data []byte) {
		if err := handleJob(jobCtx, data, cfg, templates, gateway, contentSvc, uploader, nc, logger); err != nil {
			logger.Error("job failed", "err", err)
		}
	})
	if err != nil {
		fatal(logger, "subscribe worker", err, "job_subject", cfg.JobSubject, "queue", cfg.WorkerQueue)
	}
	logger.Info("listening for jobs", "subject", cfg.JobSubject, "queue", cfg.WorkerQueue)

	select {}
}

func classifyError(err error) schema.FailureType {
	if err == nil {
		return ""
	}

	// Check for validation errors
	var validationErr ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Type
	}

	// Check for network/temporary errors
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "context deadline exceeded") {
		return schema.FailureTypeRetryable
	}

	// Check for content and file system errors
	if strings.Contains(errStr, "no such file") ||
		strings.Contains(errStr, "permission denied") ||
		strings.Contains(errStr, "content exceeds") ||
		strings.Contains(errStr, "unsupported") {
		return schema.FailureTypePermanent
	}

	// Default to retryable for unknown errors
	return schema.FailureTypeRetryable
}

// rejectionFailureType maps a recorded pipeline rejection onto the failure
// taxonomy. Exhausted retries stay retryable so an operator can replay the
// job once the backend recovers; everything else is a property of the job.
func rejectionFailureType(o engine.Outcome) schema.FailureType {
	if o.FailedStage == engine.StateInvoking {
		if o.FailureKind == string(llm.FailureRejected) {
			return schema.FailureTypePermanent
		}
		return schema.FailureTypeRetryable
	}
	return schema.FailureTypeValidation
}

func lifecycleStage(s engine.State) (schema.ProcessingStage, bool) {
	switch s {
	case engine.StateAssembling:
		return schema.StageAssembling, true
	case engine.StateInvoking:
		return schema.StageInvoking, true
	case engine.StateExtracting:
		return schema.StageExtracting, true
	case engine.StateStamping:
		return schema.StageStamping, true
	case engine.StateValidating:
		return schema.StageValidating, true
	default:
		return "", false
	}
}

func handleJob(ctx context.Context, data []byte, cfg config, templates prompt.Templates, gateway engine.Gateway, contentSvc simplecontent.Service, uploader *upload.Client, nc *bus.Client, logger *slog.Logger) error {
	// Step 1: Parse the job event
	var evt schema.ConversionRequested
	if err := json.Unmarshal(data, &evt); err != nil {
		logger.Warn("invalid job payload", "err", err)
		state := &ConversionState{JobID: "unknown", StartTime: time.Now()}
		state.AddLifecycleEvent(schema.StageFailed, err, schema.FailureTypeValidation)
		publishDone(nc, cfg.ResultSubject, state, nil, nil, err, schema.FailureTypeValidation)
		return fmt.Errorf("parse job: %w", err)
	}

	jobID := evt.ID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	jobLogger := logger.With("job_id", jobID)
	jobLogger.Info("received job", "content_id", evt.ContentID, "target_lang", evt.TargetLang, "source", evt.SourcePath)

	model := evt.Model
	if model == "" {
		model = cfg.Model
	}

	state := &ConversionState{
		JobID:           jobID,
		SourceContentID: evt.ContentID,
		SourcePath:      evt.SourcePath,
		TargetLang:      evt.TargetLang,
		Model:           model,
		StartTime:       time.Now(),
		Lifecycle:       make([]schema.ConversionLifecycleEvent, 0),
	}

	// Step 2: Resolve the job parameters
	target, err := lang.Get(evt.TargetLang)
	if err != nil {
		jobLogger.Warn("unsupported target language", "target_lang", evt.TargetLang)
		verr := ValidationError{Type: schema.FailureTypeValidation, Message: err.Error()}
		state.AddLifecycleEvent(schema.StageFailed, verr, schema.FailureTypeValidation)
		publishDone(nc, cfg.ResultSubject, state, nil, nil, verr, schema.FailureTypeValidation)
		return verr
	}

	contentID, err := uuid.Parse(evt.ContentID)
	if err != nil {
		jobLogger.Warn("invalid content identifier", "content_id", evt.ContentID, "err", err)
		state.AddLifecycleEvent(schema.StageFailed, err, schema.FailureTypeValidation)
		publishDone(nc, cfg.ResultSubject, state, nil, nil, err, schema.FailureTypeValidation)
		return fmt.Errorf("parse content id: %w", err)
	}
	contentLogger := jobLogger.With("content_id", contentID.String())

	// Step 3: Fetch and validate the source content
	parent, err := contentSvc.GetContent(ctx, contentID)
	if err != nil {
		contentLogger.Error("fetch content failed", "err", err)
		failureType := classifyError(err)
		state.AddLifecycleEvent(schema.StageFailed, err, failureType)
		publishDone(nc, cfg.ResultSubject, state, nil, nil, err, failureType)
		return fmt.Errorf("fetch content: %w", err)
	}
	state.SourceStatus = parent.Status

	if err := validateSourceContentStep(parent, contentLogger); err != nil {
		failureType := classifyError(err)
		state.AddLifecycleEvent(schema.StageFailed, err, failureType)
		publishDone(nc, cfg.ResultSubject, state, nil, nil, err, failureType)
		return err
	}

	// Step 4: Download the legacy source
	source, err := uploader.FetchSource(ctx, contentID)
	if err != nil {
		contentLogger.Error("fetch source failed", "err", err)
		failureType := classifyError(err)
		state.AddLifecycleEvent(schema.StageFailed, err, failureType)
		publishDone(nc, cfg.ResultSubject, state, nil, nil, err, failureType)
		return fmt.Errorf("fetch source: %w", err)
	}

	sourceName := evt.SourcePath
	if sourceName == "" {
		sourceName = source.Filename
	}

	// Step 5: Run the conversion pipeline
	eng := &engine.Engine{
		Templates: templates,
		Gateway:   gateway,
		RunID:     jobID,
		Logger:    contentLogger,
		OnState: func(_ *engine.Job, s engine.State) {
			stage, ok := lifecycleStage(s)
			if !ok {
				return
			}
			state.AddLifecycleEvent(stage, nil, "")
			publishLifecycleEvent(nc, cfg.ResultSubject, state.Lifecycle[len(state.Lifecycle)-1])
		},
	}

	job := engine.NewJob(sourceName, target, model)
	outcome, artifact, err := eng.ConvertFile(ctx, job, source.Text)
	if err != nil {
		// Engine misconfiguration, not a property of this job
		contentLogger.Error("conversion engine failed", "err", err)
		failureType := classifyError(err)
		state.AddLifecycleEvent(schema.StageFailed, err, failureType)
		publishDone(nc, cfg.ResultSubject, state, nil, nil, err, failureType)
		return fmt.Errorf("convert: %w", err)
	}

	if outcome.State != engine.StateValidated {
		cause := errors.New(outcome.Reason)
		failureType := rejectionFailureType(outcome)
		contentLogger.Warn("conversion rejected", "stage", outcome.FailedStage, "reason", outcome.Reason, "failure_type", failureType, "attempts", outcome.Attempts)
		state.AddLifecycleEvent(schema.StageFailed, cause, failureType)
		publishDone(nc, cfg.ResultSubject, state, &outcome, nil, cause, failureType)
		// A recorded rejection is a finished job, not a worker error
		return nil
	}

	// Step 6: Store the artifact as derived content
	state.AddLifecycleEvent(schema.StageUpload, nil, "")
	publishLifecycleEvent(nc, cfg.ResultSubject, state.Lifecycle[len(state.Lifecycle)-1])

	derived, err := uploader.StoreArtifact(ctx, parent, []byte(artifact.Code), upload.ArtifactOptions{
		FileName:   target.ArtifactName(sourceName),
		TargetLang: target.Name,
		Model:      model,
		PromptHash: artifact.PromptHash,
	})
	if err != nil {
		contentLogger.Error("store artifact failed", "err", err)
		failureType := classifyError(err)
		state.AddLifecycleEvent(schema.StageFailed, err, failureType)
		publishDone(nc, cfg.ResultSubject, state, &outcome, nil, err, failureType)
		return fmt.Errorf("store artifact: %w", err)
	}

	if err := contentSvc.UpdateContentStatus(ctx, derived.ID, simplecontent.ContentStatusProcessed); err != nil {
		contentLogger.Error("update artifact status failed", "derived_content_id", derived.ID, "err", err)
		failureType := classifyError(err)
		state.AddLifecycleEvent(schema.StageFailed, err, failureType)
		publishDone(nc, cfg.ResultSubject, state, &outcome, nil, err, failureType)
		return fmt.Errorf("update artifact status: %w", err)
	}

	// Step 7: Publish success event
	result := &schema.ConversionResult{
		ContentID:  derived.ID.String(),
		TargetLang: target.Name,
		Variant:    upload.ConversionVariant(target.Name),
		Model:      model,
		PromptHash: artifact.PromptHash,
		SizeBytes:  int64(len(artifact.Code)),
		Status:     "processed",
	}
	state.AddLifecycleEvent(schema.StageCompleted, nil, "")
	publishDone(nc, cfg.ResultSubject, state, &outcome, result, nil, "")
	contentLogger.Info("completed job", "derived_content_id", derived.ID, "attempts", outcome.Attempts, "processing_time_ms", state.GetProcessingDuration())
	return nil
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}

func LoadConfig() (config, error) {
	cfg := config{
		NATSURL:       getenv("NATS_URL", "nats://127.0.0.1:4222"),
		JobSubject:    getenv("CONVERT_SUBJECT", "conversion.jobs"),
		WorkerQueue:   getenv("CONVERT_QUEUE", "modernizer-workers"),
		ResultSubject: getenv("SUBJECT_CONVERSION_DONE", "conversion.done"),
		PromptsDir:    getenv("PROMPTS_DIR", "prompts"),
		Model:         getenv("CONVERT_MODEL", "gpt-4-turbo"),
	}

	maxRetries, err := parseNonNegativeInt(getenv("CONVERT_MAX_RETRIES", "3"), "CONVERT_MAX_RETRIES")
	if err != nil {
		return config{}, err
	}
	cfg.MaxRetries = maxRetries

	requestSecs, err := parsePositiveInt(getenv("CONVERT_TIMEOUT_SECONDS", "60"), "CONVERT_TIMEOUT_SECONDS")
	if err != nil {
		return config{}, err
	}
	cfg.RequestTimeout = time.Duration(requestSecs) * time.Second

	// The job timeout covers retries, backoff and the artifact upload, so
	// it has to be a comfortable multiple of the request timeout.
	jobSecs, err := parsePositiveInt(getenv("CONVERT_JOB_TIMEOUT_SECONDS", "300"), "CONVERT_JOB_TIMEOUT_SECONDS")
	if err != nil {
		return config{}, err
	}
	cfg.JobTimeout = time.Duration(jobSecs) * time.Second

	return cfg, nil
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func parseNonNegativeInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative (got %d)", name, v)
	}
	return v, nil
}

type ConversionState struct {
	JobID           string
	SourceContentID string
	SourceStatus    string
	SourcePath      string
	TargetLang      string
	Model           string
	StartTime       time.Time
	Lifecycle       []schema.ConversionLifecycleEvent
}

func (cs *ConversionState) AddLifecycleEvent(stage schema.ProcessingStage, err error, failureType schema.FailureType) {
	event := schema.ConversionLifecycleEvent{
		JobID:           cs.JobID,
		SourceContentID: cs.SourceContentID,
		SourceStatus:    cs.SourceStatus,
		Stage:           stage,
		TargetLang:      cs.TargetLang,
		HappenedAt:      time.Now().Unix(),
	}

	if err != nil {
		event.Error = err.Error()
		event.FailureType = failureType
	}

	cs.Lifecycle = append(cs.Lifecycle, event)
}

func (cs *ConversionState) GetProcessingDuration() int64 {
	if cs.StartTime.IsZero() {
		return 0
	}
	return time.Since(cs.StartTime).Milliseconds()
}

func publishLifecycleEvent(nc *bus.Client, subject string, event schema.ConversionLifecycleEvent) {
	if err := nc.PublishJSON(subject+".lifecycle", event); err != nil {
		slog.Error("publish lifecycle event failed", "subject", subject, "stage", event.Stage, "err", err)
	}
}

func publishDone(nc *bus.Client, subject string, state *ConversionState, outcome *engine.Outcome, result *schema.ConversionResult, cause error, failureType schema.FailureType) {
	done := schema.ConversionDone{
		ID:               state.JobID,
		SourcePath:       state.SourcePath,
		SourceContentID:  state.SourceContentID,
		SourceStatus:     state.SourceStatus,
		TargetLang:       state.TargetLang,
		Model:            state.Model,
		Validated:        result != nil,
		ProcessingTimeMs: state.GetProcessingDuration(),
		Result:           result,
		Lifecycle:        state.Lifecycle,
		HappenedAt:       time.Now().Unix(),
	}

	if outcome != nil {
		done.Attempts = outcome.Attempts
		if outcome.State != engine.StateValidated {
			done.FailedStage = string(outcome.FailedStage)
			done.Reason = outcome.Reason
			for _, v := range outcome.Violations {
				done.Violations = append(done.Violations, fmt.Sprintf("%s: %s", v.Check, v.Detail))
			}
		}
	}

	if cause != nil {
		done.Error = cause.Error()
		done.FailureType = failureType
	}

	if err := nc.PublishJSON(subject, done); err != nil {
		slog.Error("publish result failed", "subject", subject, "id", state.JobID, "err", err)
	}
}

type ValidationError struct {
	Type    schema.FailureType
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

func validateSourceContentStep(content *simplecontent.Content, logger *slog.Logger) error {
	// Check source content status
	requiredStatus := simplecontent.ContentStatusUploaded
	if content.Status != string(requiredStatus) {
		logger.Warn("source content not ready for conversion", "status", content.Status, "required", requiredStatus)
		return ValidationError{
			Type:    schema.FailureTypeValidation,
			Message: fmt.Sprintf("source content status is '%s', expected '%s'", content.Status, requiredStatus),
		}
	}

	logger.Info("source content validation passed", "content_id", content.ID, "status", content.Status)
	return nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
