package queue

import (
	"errors"

	"github.com/silencealoe/data-clean-tool/internal/apierr"
	"github.com/silencealoe/data-clean-tool/internal/ingest/parser"
)

// IsRetryable classifies an error as retryable (worth another attempt) or
// not. Malformed input and configuration errors are permanent — retrying
// won't fix a corrupted file or an unknown strategy, so those go straight
// to the dead-letter queue. Infra/transient errors (network, internal)
// are retried with backoff.
func IsRetryable(err error) bool {
	if err == nil {
		return true
	}

	var fileErr *parser.FileError
	if errors.As(err, &fileErr) {
		return false
	}

	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case apierr.CodeUnsupportedFileType, apierr.CodeValidationFailed,
			apierr.CodeInvalidConfiguration, apierr.CodeStrategyNotFound,
			apierr.CodeFileTooLarge, apierr.CodeCancelled:
			return false
		default:
			return true
		}
	}

	return true
}
