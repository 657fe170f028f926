package app

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrInvalidInput = errors.New("invalid input")

	// ErrRetrievalEmpty means nothing cleared the similarity floor. Ask turns
	// it into a NoSources result instead of returning it.
	ErrRetrievalEmpty = errors.New("no relevant passages found")

	// ErrNothingToClean marks a chunk that was empty after normalization. It
	// is stored as cleaned with no text and the loader skips it.
	ErrNothingToClean = errors.New("chunk empty after normalization")
)

// ValidationError rejects a cleaned chunk that does not fit the output schema.
type ValidationError struct {
	VideoID   string
	StartTime float64
	Reason    string
	Raw       string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("cleaned chunk %s@%s rejected: %s", e.VideoID, formatSeconds(e.StartTime), e.Reason)
}

// CitationUnresolved is a model citation that matches no retrieved passage.
// It is logged and dropped, never returned to callers.
type CitationUnresolved struct {
	VideoID   string
	StartTime float64
}

func (e *CitationUnresolved) Error() string {
	return fmt.Sprintf("citation (%s, %s) not in retrieved set", e.VideoID, formatSeconds(e.StartTime))
}

// UpstreamError wraps a model or database failure with the stage and the
// identifier needed to resume.
type UpstreamError struct {
	Stage string
	ID    string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s stage unavailable at %s: %v", e.Stage, e.ID, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func upstream(stage, id string, err error) error {
	return &UpstreamError{Stage: stage, ID: id, Err: err}
}

func IsUpstreamUnavailable(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
