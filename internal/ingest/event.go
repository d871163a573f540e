// Package ingest moves documents from the Kafka ingest topic into the delta
// indexer. Producers enqueue Events; the handler validates each one and adds
// its text to the engine.
package ingest

import (
	"fmt"
	"strings"
	"time"
)

const (
	maxTextLength = 1 << 20
	maxKeyLength  = 255
)

// Event is the JSON payload on the ingest topic.
type Event struct {
	Key         string    `json:"key"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// Validate checks length limits. Text made only of stopwords passes here and
// is rejected by the indexer.
func Validate(e *Event) error {
	errs := make(map[string]string)
	if strings.TrimSpace(e.Text) == "" {
		errs["text"] = "text is required"
	} else if len(e.Text) > maxTextLength {
		errs["text"] = fmt.Sprintf("text must be at most %d bytes", maxTextLength)
	}
	if len(e.Key) > maxKeyLength {
		errs["key"] = fmt.Sprintf("key must be at most %d characters", maxKeyLength)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
