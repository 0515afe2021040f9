// Package domain holds the data model shared by every subsystem of the
// data cleaning core: files, tasks, rule configuration, row outcomes,
// progress, metrics, and upload tracking.
package domain

import "time"

// FileType enumerates the accepted spreadsheet formats.
type FileType string

const (
	FileTypeXLSX FileType = "xlsx"
	FileTypeXLS  FileType = "xls"
	FileTypeCSV  FileType = "csv"
)

// FileStatus is the lifecycle state of an ingested file.
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusFailed     FileStatus = "failed"
)

// FileRecord is the identity of one ingested file, 1:1 with a Task/jobId.
type FileRecord struct {
	ID                string     `json:"id"`
	JobID             string     `json:"jobId"`
	OriginalFileName  string     `json:"originalFileName"`
	FileSize          int64      `json:"fileSize"`
	FileType          FileType   `json:"fileType"`
	MimeType          string     `json:"mimeType"`
	Status            FileStatus `json:"status"`
	UploadedAt        time.Time  `json:"uploadedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	TotalRows         *int       `json:"totalRows,omitempty"`
	CleanedRows       *int       `json:"cleanedRows,omitempty"`
	ExceptionRows     *int       `json:"exceptionRows,omitempty"`
	ProcessingTimeMs  *int64     `json:"processingTime,omitempty"`
	CleanDataPath     *string    `json:"cleanDataPath,omitempty"`
	ExceptionDataPath *string    `json:"exceptionDataPath,omitempty"`
	ErrorMessage      *string    `json:"errorMessage,omitempty"`
}

// TaskStatus is the lifecycle state of a queued task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusTimeout    TaskStatus = "timeout"
)

// TaskPayload is the pointer to the stored upload and parsing hints that a
// worker needs to process a job. It is marshaled into the queue message.
type TaskPayload struct {
	JobID      string `json:"jobId"`
	FileID     string `json:"fileId"`
	FilePath   string `json:"filePath"`
	FileName   string `json:"fileName"`
	FileType   FileType `json:"fileType"`
	ConfigHint string `json:"configHint,omitempty"`
}

// Task is one queued unit of work bound to a FileRecord.
type Task struct {
	TaskID             string     `json:"taskId"`
	Payload            TaskPayload `json:"payload"`
	CreatedAt          time.Time  `json:"createdAt"`
	StartedAt          *time.Time `json:"startedAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
	Status             TaskStatus `json:"status"`
	Attempts           int        `json:"attempts"`
	LastError          *string    `json:"lastError,omitempty"`
	VisibilityDeadline *time.Time `json:"visibilityDeadline,omitempty"`
}

// Condition gates a FieldRule on the value of another field in the same row.
type Condition struct {
	Field    string      `json:"field" yaml:"field"`
	Operator string      `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value" yaml:"value"`
}

// Condition operators.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"
)

// FieldRule binds a strategy to a field with parameters, priority,
// required-ness, and an optional condition.
type FieldRule struct {
	Name         string                 `json:"name" yaml:"name"`
	Strategy     string                 `json:"strategy" yaml:"strategy"`
	Params       map[string]interface{} `json:"params" yaml:"params"`
	Required     bool                   `json:"required" yaml:"required"`
	Priority     int                    `json:"priority" yaml:"priority"`
	ErrorMessage string                 `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
	Condition    *Condition             `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// GlobalSettings governs engine-wide behavior.
type GlobalSettings struct {
	StrictMode                  bool `json:"strictMode" yaml:"strictMode"`
	ContinueOnError             bool `json:"continueOnError" yaml:"continueOnError"`
	MaxErrors                   int  `json:"maxErrors" yaml:"maxErrors"`
	EnableCaching               bool `json:"enableCaching,omitempty" yaml:"enableCaching,omitempty"`
	CacheTimeoutSeconds         int  `json:"cacheTimeout,omitempty" yaml:"cacheTimeout,omitempty"`
	ParallelProcessing          bool `json:"parallelProcessing,omitempty" yaml:"parallelProcessing,omitempty"`
	MaxParallelTasks            int  `json:"maxParallelTasks,omitempty" yaml:"maxParallelTasks,omitempty"`
	LogLevel                    string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	EnablePerformanceMonitoring bool `json:"enablePerformanceMonitoring,omitempty" yaml:"enablePerformanceMonitoring,omitempty"`
}

// ConfigMetadata identifies and versions a RuleConfiguration.
type ConfigMetadata struct {
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	Version     int       `json:"version" yaml:"version"`
	Priority    int       `json:"priority" yaml:"priority"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// RuleConfiguration is the active validation policy.
type RuleConfiguration struct {
	Metadata       ConfigMetadata         `json:"metadata" yaml:"metadata"`
	FieldRules     map[string][]FieldRule `json:"fieldRules" yaml:"fieldRules"`
	GlobalSettings GlobalSettings         `json:"globalSettings" yaml:"globalSettings"`
}

// RowError is one failing rule recorded against a row.
type RowError struct {
	Field         string `json:"field"`
	RuleName      string `json:"ruleName"`
	ErrorMessage  string `json:"errorMessage"`
	OriginalValue string `json:"originalValue"`
}

// RowOutcome is the product of one row through the Rule Engine: exactly one
// of Clean or Exception is populated.
type RowOutcome struct {
	RowNumber    int
	Clean        bool
	Normalized   map[string]interface{}
	OriginalData map[string]string
	Errors       []RowError
}

// Phase is a named stage of job progress.
type Phase string

const (
	PhaseEstimating  Phase = "estimating"
	PhasePreparing   Phase = "preparing"
	PhaseInitializing Phase = "initializing"
	PhaseParsing     Phase = "parsing"
	PhaseCleaning    Phase = "cleaning"
	PhaseSavingBatch Phase = "saving_batch"
	PhaseFinalizing  Phase = "finalizing"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

// WorkerProgress is one shard's contribution to overall Progress.
type WorkerProgress struct {
	WorkerID  int `json:"workerId"`
	Processed int `json:"processed"`
}

// Progress is the per-job, in-memory progress snapshot.
type Progress struct {
	JobID                 string           `json:"jobId"`
	OverallProgress       float64          `json:"overallProgress"`
	ProcessedRows         int              `json:"processedRows"`
	TotalRows             int              `json:"totalRows"`
	CurrentPhase          Phase            `json:"currentPhase"`
	WorkerProgress        []WorkerProgress `json:"workerProgress"`
	EstimatedTimeRemaining *float64        `json:"estimatedTimeRemaining,omitempty"`
	LastUpdated           time.Time        `json:"lastUpdated"`
	StartedAt             *time.Time       `json:"startedAt,omitempty"`
}

// Metrics is a sampled runtime reading for a job.
type Metrics struct {
	JobID         string    `json:"jobId"`
	CPUUsage      float64   `json:"cpuUsage"`
	MemoryUsageMB float64   `json:"memoryUsage"`
	Throughput    float64   `json:"throughput"`
	WorkerCount   int       `json:"workerCount"`
	Timestamp     time.Time `json:"timestamp"`
	IsProcessing  bool      `json:"isProcessing"`
}

// ProcessingMode records whether a job ran parallel or sequential.
type ProcessingMode string

const (
	ModeParallel   ProcessingMode = "parallel"
	ModeSequential ProcessingMode = "sequential"
)

// PerformanceReport is the terminal summary produced at job completion.
type PerformanceReport struct {
	JobID            string         `json:"jobId"`
	ProcessingMode   ProcessingMode `json:"processingMode"`
	WorkerCount      int            `json:"workerCount"`
	AvgCPU           float64        `json:"avgCpuUsage"`
	PeakCPU          float64        `json:"peakCpuUsage"`
	AvgMemoryMB      float64        `json:"avgMemoryUsage"`
	PeakMemoryMB     float64        `json:"peakMemoryUsage"`
	AvgThroughput    float64        `json:"avgThroughput"`
	PeakThroughput   float64        `json:"peakThroughput"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
	TotalRows        int            `json:"totalRows"`
	SuccessCount     int            `json:"successCount"`
	ErrorCount       int            `json:"errorCount"`
}

// CleanRow is one persisted clean record as read back for the API's
// paginated data endpoints and for Export.
type CleanRow struct {
	RowNumber int                    `json:"rowNumber"`
	Data      map[string]interface{} `json:"data"`
}

// ExceptionRow is one persisted exception record as read back for the
// API's paginated data endpoints and for Export.
type ExceptionRow struct {
	RowNumber    int               `json:"rowNumber"`
	OriginalData map[string]string `json:"originalData"`
	Errors       []RowError        `json:"errors"`
}

// UploadStatus is the lifecycle of an in-flight HTTP upload.
type UploadStatus string

const (
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusCompleted UploadStatus = "completed"
	UploadStatusFailed    UploadStatus = "failed"
)

// UploadProgress tracks in-flight HTTP body ingestion bytes.
type UploadProgress struct {
	UploadID       string       `json:"uploadId"`
	FileName       string       `json:"fileName"`
	TotalSize      int64        `json:"totalSize"`
	UploadedSize   int64        `json:"uploadedSize"`
	Progress       float64      `json:"progress"`
	SpeedBytesPerS float64      `json:"speed"`
	StartTime      time.Time    `json:"startTime"`
	LastUpdateTime time.Time    `json:"lastUpdateTime"`
	Status         UploadStatus `json:"status"`
	Error          string       `json:"error,omitempty"`
}
