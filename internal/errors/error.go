package errors

import "github.com/pkg/errors"

var (
	// ingestion input errors, surfaced to the uploader
	ErrEmptyInput          = errors.New("uploaded file is empty")
	ErrEmptyArchive        = errors.New("archive contains no files")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrCorruptArchive      = errors.New("unable to decompress archive")
	ErrUnparsableReport    = errors.New("unable to parse report XML")

	// third-party sender errors
	ErrInvalidPattern = errors.New("invalid regular expression pattern")

	// reprocessing errors
	ErrJobNotFound = errors.New("reprocess job not found")
)

// IsBadInput reports whether err belongs to the user-facing ingestion
// error class (never retried, mapped to HTTP 400).
func IsBadInput(err error) bool {
	for _, target := range []error{
		ErrEmptyInput,
		ErrEmptyArchive,
		ErrUnsupportedFileType,
		ErrCorruptArchive,
		ErrUnparsableReport,
		ErrInvalidPattern,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
