package publishers

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Adda-Baaj/khobor-scrapers/internal/domain"
)

// Dispatcher fans each emitted record out to every configured publisher.
type Dispatcher struct {
	pubs []Publisher
	log  Logger
}

// NewDispatcher wraps the given publishers.
func NewDispatcher(pubs []Publisher, log Logger) *Dispatcher {
	return &Dispatcher{pubs: pubs, log: ensureLogger(log)}
}

// Emit publishes rec to all publishers. Every publisher is attempted; the
// joined error reports the ones that failed.
func (d *Dispatcher) Emit(ctx context.Context, providerID string, rec domain.ArticleRecord) error {
	if len(d.pubs) == 0 {
		return errors.New("no publishers configured")
	}

	evt := NewEvent(providerID, rec)
	var errs []error
	for _, pub := range d.pubs {
		if err := pub.Publish(ctx, evt); err != nil {
			d.log.WarnObj("publisher failed to deliver record", "publish_failed", map[string]any{
				"publisher_id": pub.ID(),
				"provider_id":  providerID,
				"url":          rec.URL,
				"error":        err.Error(),
			})
			errs = append(errs, fmt.Errorf("%s: %w", pub.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes publishers that hold resources.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, pub := range d.pubs {
		if c, ok := pub.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", pub.ID(), err))
			}
		}
	}
	return errors.Join(errs...)
}
