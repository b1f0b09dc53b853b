package publishers

import (
	"context"
	"fmt"
	"io"
)

// queueMessage is an event rendered once for every queue backend.
type queueMessage struct {
	Key        string
	Body       []byte
	Attributes map[string]string
}

func newQueueMessage(evt Event) (queueMessage, error) {
	body, err := evt.Payload()
	if err != nil {
		return queueMessage{}, err
	}
	attrs := make(map[string]string)
	for k, v := range evt.Attributes() {
		if v != "" {
			attrs[k] = v
		}
	}
	return queueMessage{Key: evt.Key(), Body: body, Attributes: attrs}, nil
}

// queueSender delivers a rendered message and returns the backend message id.
type queueSender interface {
	Send(ctx context.Context, msg queueMessage) (string, error)
}

// queuePublisher dispatches records to a cloud queue provider.
type queuePublisher struct {
	id       string
	typ      string
	provider string
	sender   queueSender
	log      Logger
}

func newQueuePublisher(ctx context.Context, cfg PublisherConfig, log Logger) (Publisher, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("publisher %q missing queue configuration", cfg.ID)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		sender queueSender
		err    error
	)
	switch cfg.Queue.Provider {
	case QueueProviderAWSSQS:
		sender, err = newAWSSQSSender(ctx, cfg.Queue.AWS)
	case QueueProviderAWSSNS:
		sender, err = newAWSSNSSender(ctx, cfg.Queue.SNS)
	case QueueProviderGCP:
		sender, err = newGCPPubSubSender(ctx, cfg.Queue.GCP)
	default:
		err = fmt.Errorf("queue provider %q is not supported", cfg.Queue.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("publisher %q: %w", cfg.ID, err)
	}

	return &queuePublisher{
		id:       cfg.ID,
		typ:      cfg.Type,
		provider: cfg.Queue.Provider,
		sender:   sender,
		log:      ensureLogger(log),
	}, nil
}

func (p *queuePublisher) ID() string   { return p.id }
func (p *queuePublisher) Type() string { return p.typ }

// Publish renders the record and hands it to the queue backend.
func (p *queuePublisher) Publish(ctx context.Context, evt Event) error {
	msg, err := newQueueMessage(evt)
	if err != nil {
		return err
	}

	msgID, err := p.sender.Send(ctx, msg)
	if err != nil {
		p.log.ErrorObj("queue send failed", "queue_send_failed", map[string]any{
			"publisher_id": p.id,
			"queue":        p.provider,
			"provider_id":  evt.ProviderID,
			"url":          evt.Article.URL,
			"error":        err.Error(),
		})
		return fmt.Errorf("%s send: %w", p.provider, err)
	}

	p.log.DebugObj("record queued", "queue_delivered", map[string]any{
		"publisher_id": p.id,
		"queue":        p.provider,
		"message_id":   msgID,
		"url":          evt.Article.URL,
	})
	return nil
}

// Close releases the sender when it holds a connection.
func (p *queuePublisher) Close() error {
	if c, ok := p.sender.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
