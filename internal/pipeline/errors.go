package pipeline

import "errors"

// Fatal run errors. Every error returned by Run wraps exactly one of them.
var (
	ErrTemplate     = errors.New("template could not be read")
	ErrNoReportText = errors.New("no text could be extracted from the reports")
	ErrGeneration   = errors.New("report generation failed")
	ErrWrite        = errors.New("document could not be written")
	ErrNoCredential = errors.New("API key not configured")
)
