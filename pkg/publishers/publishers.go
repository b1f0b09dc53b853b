// Package publishers delivers emitted article records to external sinks:
// JSON lines files, HTTP endpoints and cloud queues.
package publishers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/Adda-Baaj/khobor-scrapers/internal/domain"
	"github.com/Adda-Baaj/khobor-scrapers/internal/logger"
)

// Logger is the structured logger publishers report through.
type Logger = logger.Logger

// Publisher delivers events to one configured sink.
type Publisher interface {
	ID() string
	Type() string
	Publish(ctx context.Context, evt Event) error
}

// Event wraps one emitted record with its routing metadata.
type Event struct {
	ProviderID string
	Article    domain.ArticleRecord
}

// NewEvent builds an event for a record emitted by providerID.
func NewEvent(providerID string, rec domain.ArticleRecord) Event {
	return Event{ProviderID: providerID, Article: rec}
}

// Payload is the message body: the record serialized with its public schema
// and nothing else, so consumers see the same shape from every sink.
func (e Event) Payload() ([]byte, error) {
	payload, err := json.Marshal(e.Article)
	if err != nil {
		return nil, fmt.Errorf("marshal article: %w", err)
	}
	return payload, nil
}

// Attributes returns the routing attributes sent alongside the payload.
func (e Event) Attributes() map[string]string {
	return map[string]string{
		"provider_id": e.ProviderID,
		"date_review": strconv.FormatBool(e.Article.Meta.NeedsReview),
	}
}

// Key is a stable identity for the record, derived from its URL. Sinks that
// deduplicate on their side (FIFO queues) use it as the deduplication id.
func (e Event) Key() string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(e.Article.URL)).String()
}

func ensureLogger(log Logger) Logger {
	if log == nil {
		return logger.NopLogger{}
	}
	return log
}
