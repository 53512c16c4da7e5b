package models

import "github.com/google/uuid"

// BulkFailure describes why one id in a batch was not applied.
type BulkFailure struct {
	ID     uuid.UUID `json:"id"`
	Code   string    `json:"code"`
	Reason string    `json:"reason"`
}

// BulkResult reports a batch operation. A batch with failures is still a
// successful request; callers inspect Failures.
type BulkResult struct {
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
	Succeeded    []uuid.UUID   `json:"succeeded"`
	Failures     []BulkFailure `json:"failures"`
}

// ExportFormat is an output encoding for problem exports.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatJSON ExportFormat = "json"
	ExportFormatYAML ExportFormat = "yaml"
)

// IsValid returns true for supported formats.
func (f ExportFormat) IsValid() bool {
	return f == ExportFormatCSV || f == ExportFormatJSON || f == ExportFormatYAML
}

// ContentType returns the HTTP content type for the format.
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatJSON:
		return "application/x-ndjson"
	case ExportFormatYAML:
		return "application/yaml"
	default:
		return "text/csv"
	}
}
