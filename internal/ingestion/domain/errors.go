package domain

import "errors"

var (
	ErrNotFound = errors.New("record not found")
	// ErrLowExtractionConfidence marks resumes whose extracted text is too poor to parse.
	ErrLowExtractionConfidence = errors.New("resume text extraction confidence too low")
	ErrDuplicateCandidate      = errors.New("candidate already exists for tenant")
)
