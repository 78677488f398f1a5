//go:build nats

// cmd/enqueue/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	simplecontent "github.com/tendant/simple-content/pkg/simplecontent"
	"github.com/tendant/simple-content/pkg/simplecontent/admin"
	simpleconfig "github.com/tendant/simple-content/pkg/simplecontent/config"
	"github.com/tendant/simple-content/pkg/simplecontent/scan"

	"github.com/tendant/simple-modernizer/internal/bus"
	"github.com/tendant/simple-modernizer/internal/lang"
	"github.com/tendant/simple-modernizer/internal/upload"
	"github.com/tendant/simple-modernizer/pkg/schema"
)

type config struct {
	NATSURL     string
	JobSubject  string
	TargetLangs string
	Model       string
	BatchSize   int
	Limit       int
	DryRun      bool
	OnlyMissing bool
	OwnerID     string
	TenantID    string
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()
	logger.Info("enqueue starting",
		"nats_url", cfg.NATSURL,
		"job_subject", cfg.JobSubject,
		"target_langs", cfg.TargetLangs,
		"batch_size", cfg.BatchSize,
		"limit", cfg.Limit,
		"dry_run", cfg.DryRun,
		"only_missing", cfg.OnlyMissing,
	)

	targets, err := parseTargets(cfg.TargetLangs)
	if err != nil {
		fatal(logger, "resolve target languages", err, "target_langs", cfg.TargetLangs)
	}

	// Load simple-content config
	contentCfg, err := loadSimpleContentConfig()
	if err != nil {
		fatal(logger, "load simplecontent config", err)
	}
	logger.Info("loaded simplecontent config",
		"default_backend", contentCfg.DefaultStorageBackend,
		"database_type", contentCfg.DatabaseType,
	)

	// Build content service
	contentSvc, err := contentCfg.BuildService()
	if err != nil {
		fatal(logger, "build simplecontent service", err)
	}
	logger.Info("simplecontent service ready")

	// Build admin service
	repo, err := contentCfg.BuildRepository()
	if err != nil {
		fatal(logger, "build repository", err)
	}
	adminSvc := admin.New(repo)
	logger.Info("admin service ready")

	ctx := context.Background()

	// Connect to NATS (skip if dry-run)
	var nc *bus.Client
	if !cfg.DryRun {
		nc, err = bus.Connect(cfg.NATSURL)
		if err != nil {
			fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
		}
		defer nc.Close()
		logger.Info("connected to NATS", "nats_url", cfg.NATSURL)
	}

	// Build content filters
	filters := buildFilters(cfg, logger)

	// Create scanner
	scanner := scan.New(adminSvc)

	// Create processor
	var processor *ConversionJobProcessor
	if !cfg.DryRun {
		uploader := upload.NewClient(contentSvc, contentCfg.DefaultStorageBackend)
		processor = NewConversionJobProcessor(nc, contentSvc, uploader, targets, cfg, logger)
	}

	// Run scan
	logger.Info("scanning for legacy sources needing conversion...")

	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 100
	}

	result, err := scanner.Scan(ctx, scan.ScanOptions{
		Filters:   filters,
		Processor: processor,
		DryRun:    cfg.DryRun,
		BatchSize: batchSize,
		Limit:     cfg.Limit, // 0 = unlimited
		OnProgress: func(processed, total int64) {
			logger.Info("scan progress", "processed", processed, "total", total)
		},
	})
	if err != nil {
		fatal(logger, "scan failed", err)
	}

	if !cfg.DryRun && processor != nil {
		published, skippedNonSource, skippedConverted := processor.Stats()
		logger.Info("enqueue complete",
			"total_found", result.TotalFound,
			"processed", result.TotalProcessed,
			"failed", result.TotalFailed,
			"jobs_published", published,
			"skipped_non_source", skippedNonSource,
			"skipped_converted", skippedConverted,
		)
	} else {
		logger.Info("enqueue complete",
			"total_found", result.TotalFound,
			"processed", result.TotalProcessed,
			"failed", result.TotalFailed,
			"dry_run", cfg.DryRun,
		)
	}

	if result.TotalFailed > 0 {
		logger.Error("some jobs failed", "failed_ids", result.FailedIDs)
	}
}

func loadConfig() config {
	cfg := config{
		NATSURL:     getenv("NATS_URL", "nats://127.0.0.1:4222"),
		JobSubject:  getenv("CONVERT_SUBJECT", "conversion.jobs"),
		TargetLangs: getenv("CONVERT_TARGET_LANGS", "CSHARP"),
		Model:       getenv("CONVERT_MODEL", ""),
		OwnerID:     getenv("ENQUEUE_OWNER_ID", ""),
		TenantID:    getenv("ENQUEUE_TENANT_ID", ""),
		DryRun:      true, // Default to dry-run for safety
		OnlyMissing: true,
	}

	flag.IntVar(&cfg.BatchSize, "batch", 100, "Number of items to query per batch (default: 100)")
	flag.IntVar(&cfg.Limit, "limit", 0, "Maximum total number of items to process (0 = unlimited)")
	flag.BoolVar(&cfg.DryRun, "dry-run", true, "Show what would be processed without publishing jobs")
	flag.BoolVar(&cfg.OnlyMissing, "only-missing", true, "Only enqueue sources missing a conversion (false = reconvert all)")
	flag.StringVar(&cfg.TargetLangs, "target-langs", cfg.TargetLangs, "Comma-separated target languages, e.g. CSHARP,JAVA")
	flag.StringVar(&cfg.Model, "model", cfg.Model, "Model identifier for the jobs (empty = worker default)")
	flag.StringVar(&cfg.OwnerID, "owner-id", cfg.OwnerID, "Filter by owner ID (empty = all owners)")
	flag.StringVar(&cfg.TenantID, "tenant-id", cfg.TenantID, "Filter by tenant ID (empty = all tenants)")

	var execute bool
	flag.BoolVar(&execute, "execute", false, "Actually publish jobs (disables dry-run)")
	flag.Parse()

	// If --execute is specified, disable dry-run
	if execute {
		cfg.DryRun = false
	}

	return cfg
}

func loadSimpleContentConfig() (*simpleconfig.ServerConfig, error) {
	cfg, err := simpleconfig.Load(simpleconfig.WithEnv(""))
	if err != nil {
		return nil, fmt.Errorf("unable to load simplecontent config: %w", err)
	}
	return cfg, nil
}

func parseTargets(raw string) ([]lang.Language, error) {
	var targets []lang.Language
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		target, err := lang.Get(name)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no target languages configured")
	}
	return targets, nil
}

// buildFilters constructs admin content filters based on config
func buildFilters(cfg config, logger *slog.Logger) admin.ContentFilters {
	filters := admin.ContentFilters{}

	// Filter by owner/tenant if specified
	if cfg.OwnerID != "" {
		ownerID, err := uuid.Parse(cfg.OwnerID)
		if err != nil {
			logger.Warn("invalid owner ID, ignoring", "owner_id", cfg.OwnerID, "err", err)
		} else {
			filters.OwnerID = &ownerID
		}
	}

	if cfg.TenantID != "" {
		tenantID, err := uuid.Parse(cfg.TenantID)
		if err != nil {
			logger.Warn("invalid tenant ID, ignoring", "tenant_id", cfg.TenantID, "err", err)
		} else {
			filters.TenantID = &tenantID
		}
	}

	// Only process uploaded content; anything still being written has no
	// stable source to convert
	filters.Statuses = []string{
		string(simplecontent.ContentStatusUploaded),
	}

	// Exclude derived content (stored artifacts) - we only want sources
	emptyString := ""
	filters.DerivationType = &emptyString

	return filters
}

// ConversionJobProcessor publishes conversion jobs for legacy sources
type ConversionJobProcessor struct {
	nc               *bus.Client
	svc              simplecontent.Service
	uploader         *upload.Client
	targets          []lang.Language
	cfg              config
	logger           *slog.Logger
	jobsPublished    int
	skippedNonSource int
	skippedConverted int
}

func NewConversionJobProcessor(nc *bus.Client, svc simplecontent.Service, uploader *upload.Client, targets []lang.Language, cfg config, logger *slog.Logger) *ConversionJobProcessor {
	return &ConversionJobProcessor{
		nc:       nc,
		svc:      svc,
		uploader: uploader,
		targets:  targets,
		cfg:      cfg,
		logger:   logger,
	}
}

// Stats returns statistics about the processing
func (p *ConversionJobProcessor) Stats() (jobsPublished, skippedNonSource, skippedConverted int) {
	return p.jobsPublished, p.skippedNonSource, p.skippedConverted
}

// Process implements scan.ContentProcessor
func (p *ConversionJobProcessor) Process(ctx context.Context, content *simplecontent.Content) error {
	// Skip derived content; artifacts never feed back into the pipeline
	if content.DerivationType != "" {
		p.logger.Debug("skipping derived content", "content_id", content.ID, "derivation_type", content.DerivationType)
		return nil
	}

	// Resolve the stored file name
	name := content.Name
	if metadata, err := p.svc.GetContentMetadata(ctx, content.ID); err == nil && metadata.FileName != "" {
		name = metadata.FileName
	}

	if !isLegacySource(name) {
		p.skippedNonSource++
		p.logger.Info("skipping non-source content", "content_id", content.ID, "name", name)
		return nil
	}

	// Work out which requested languages still need a conversion
	pending := p.targets
	if p.cfg.OnlyMissing {
		missing, err := p.missingTargets(ctx, content.ID)
		if err != nil {
			p.logger.Warn("failed to check existing conversions", "content_id", content.ID, "err", err)
			// Continue processing to be safe
			missing = p.targets
		}
		if len(missing) == 0 {
			p.skippedConverted++
			p.logger.Info("skipping, all conversions exist", "content_id", content.ID, "name", name)
			return nil
		}
		pending = missing
	}

	for _, target := range pending {
		if err := publishConversionJob(p.nc, p.cfg.JobSubject, content, target, p.cfg.Model, name); err != nil {
			return fmt.Errorf("publish job for %s: %w", target.Name, err)
		}
		p.jobsPublished++
		p.logger.Info("published conversion job",
			"content_id", content.ID,
			"name", name,
			"target_lang", target.Name,
			"jobs_published", p.jobsPublished)
	}

	// Small delay to avoid overwhelming the queue
	time.Sleep(10 * time.Millisecond)

	return nil
}

// missingTargets returns the requested languages that have no stored
// conversion artifact for this content yet.
func (p *ConversionJobProcessor) missingTargets(ctx context.Context, contentID uuid.UUID) ([]lang.Language, error) {
	names := make([]string, len(p.targets))
	for i, target := range p.targets {
		names[i] = target.Name
	}

	existing, err := p.uploader.ListConversions(ctx, contentID, names)
	if err != nil {
		return nil, err
	}

	have := make(map[string]bool, len(existing))
	for _, derived := range existing {
		have[derived.Variant] = true
	}

	var missing []lang.Language
	for _, target := range p.targets {
		if !have[upload.ConversionVariant(target.Name)] {
			missing = append(missing, target)
		}
	}
	return missing, nil
}

// publishConversionJob publishes a job for one source and target language
func publishConversionJob(nc *bus.Client, subject string, content *simplecontent.Content, target lang.Language, model, sourceName string) error {
	evt := schema.ConversionRequested{
		ID:         uuid.New().String(),
		ContentID:  content.ID.String(),
		SourcePath: sourceName,
		TargetLang: target.Name,
		Model:      model,
		HappenedAt: time.Now().Unix(),
	}

	if err := nc.PublishJSON(subject, evt); err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}

	return nil
}

// Classic VB source extensions recognized as conversion input.
var legacySourceExts = map[string]bool{
	".vb":  true,
	".bas": true,
	".cls": true,
	".frm": true,
}

func isLegacySource(name string) bool {
	return legacySourceExts[strings.ToLower(filepath.Ext(name))]
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
