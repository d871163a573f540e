package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/deltasearch/pkg/kafka"
)

// Indexer is the engine surface the handler writes to.
type Indexer interface {
	AddDocument(text string) (uint32, error)
}

// Handler returns a kafka.MessageHandler that adds each event's text to ix.
//
// Undecodable and invalid events are logged and committed so they cannot
// block the partition. A persistence failure is committed too: the document
// is already searchable and redelivery would index it twice. Any other
// indexer error, such as a closed engine, leaves the message uncommitted.
func Handler(ix Indexer) kafka.MessageHandler {
	logger := slog.Default().With("component", "ingest-handler")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[Event](value)
		if err != nil {
			logger.Error("failed to decode ingest event", "key", string(key), "error", err)
			return nil
		}
		if err := Validate(&event); err != nil {
			logger.Warn("rejected ingest event", "key", event.Key, "error", err)
			return nil
		}
		docID, err := ix.AddDocument(event.Text)
		switch {
		case err == nil:
			logger.Debug("document indexed", "key", event.Key, "doc_id", docID)
			return nil
		case errors.Is(err, apperrors.ErrEmptyInput):
			logger.Warn("ingest event has no indexable terms", "key", event.Key)
			return nil
		case apperrors.Recoverable(err):
			logger.Error("document indexed but not persisted", "key", event.Key, "doc_id", docID, "error", err)
			return nil
		default:
			return fmt.Errorf("indexing event %s: %w", event.Key, err)
		}
	}
}

// BatchPublisher is implemented by *kafka.Producer.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Enqueue validates texts and publishes them as one batch. Each event gets a
// fresh key, which is returned in input order. Nothing is published when any
// text is invalid.
func Enqueue(ctx context.Context, pub BatchPublisher, texts []string) ([]string, error) {
	now := time.Now().UTC()
	keys := make([]string, len(texts))
	events := make([]kafka.Event, len(texts))
	for i, text := range texts {
		e := Event{Key: uuid.NewString(), Text: text, SubmittedAt: now}
		if err := Validate(&e); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		keys[i] = e.Key
		events[i] = kafka.Event{Key: e.Key, Value: e}
	}
	if err := pub.PublishBatch(ctx, events); err != nil {
		return nil, err
	}
	return keys, nil
}
