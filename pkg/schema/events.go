// pkg/schema/events.go
package schema

type ConversionRequested struct {
	ID         string `json:"id"`
	ContentID  string `json:"content_id"`
	SourcePath string `json:"source_path,omitempty"`
	TargetLang string `json:"target_lang"`
	Model      string `json:"model,omitempty"`
	HappenedAt int64  `json:"happened_at"`
}

type ProcessingStage string

const (
	StageAssembling ProcessingStage = "assembling"
	StageInvoking   ProcessingStage = "invoking"
	StageExtracting ProcessingStage = "extracting"
	StageStamping   ProcessingStage = "stamping"
	StageValidating ProcessingStage = "validating"
	StageUpload     ProcessingStage = "upload"
	StageCompleted  ProcessingStage = "completed"
	StageFailed     ProcessingStage = "failed"
)

type FailureType string

const (
	FailureTypeRetryable  FailureType = "retryable"
	FailureTypePermanent  FailureType = "permanent"
	FailureTypeValidation FailureType = "validation"
)

type ConversionResult struct {
	ContentID  string `json:"content_id"`
	TargetLang string `json:"target_lang"`
	Variant    string `json:"variant"`
	Model      string `json:"model,omitempty"`
	PromptHash string `json:"prompt_hash,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	Status     string `json:"status"`
}

type ConversionLifecycleEvent struct {
	JobID           string          `json:"job_id"`
	SourceContentID string          `json:"source_content_id"`
	SourceStatus    string          `json:"source_status,omitempty"`
	Stage           ProcessingStage `json:"stage"`
	TargetLang      string          `json:"target_lang,omitempty"`
	Error           string          `json:"error,omitempty"`
	FailureType     FailureType     `json:"failure_type,omitempty"`
	HappenedAt      int64           `json:"happened_at"`
}

type ConversionDone struct {
	ID               string                     `json:"id"`
	SourcePath       string                     `json:"source_path,omitempty"`
	SourceContentID  string                     `json:"source_content_id"`
	SourceStatus     string                     `json:"source_status,omitempty"`
	TargetLang       string                     `json:"target_lang"`
	Model            string                     `json:"model,omitempty"`
	Validated        bool                       `json:"validated"`
	FailedStage      string                     `json:"failed_stage,omitempty"`
	Reason           string                     `json:"reason,omitempty"`
	Violations       []string                   `json:"violations,omitempty"`
	Attempts         int                        `json:"attempts,omitempty"`
	ProcessingTimeMs int64                      `json:"processing_time_ms"`
	Result           *ConversionResult          `json:"result,omitempty"`
	Lifecycle        []ConversionLifecycleEvent `json:"lifecycle,omitempty"`
	Error            string                     `json:"error,omitempty"`
	FailureType      FailureType                `json:"failure_type,omitempty"`
	HappenedAt       int64                      `json:"happened_at"`
}
