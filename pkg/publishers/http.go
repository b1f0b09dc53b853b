package publishers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Adda-Baaj/khobor-scrapers/pkg/httpclient"
)

// httpPublisher sends each record as a JSON body to a webhook style endpoint.
type httpPublisher struct {
	id      string
	typ     string
	url     string
	method  string
	headers map[string]string
	client  *resty.Client
	log     Logger
}

func newHTTPPublisher(_ context.Context, cfg PublisherConfig, log Logger) (Publisher, error) {
	if cfg.HTTP == nil {
		return nil, fmt.Errorf("publisher %q missing http configuration", cfg.ID)
	}

	client := resty.New().
		SetTimeout(time.Duration(cfg.HTTP.TimeoutSeconds)*time.Second).
		SetHeader("Content-Type", "application/json")

	return &httpPublisher{
		id:      cfg.ID,
		typ:     cfg.Type,
		url:     cfg.HTTP.URL,
		method:  cfg.HTTP.Method,
		headers: cfg.HTTP.Headers,
		client:  client,
		log:     ensureLogger(log),
	}, nil
}

func (p *httpPublisher) ID() string   { return p.id }
func (p *httpPublisher) Type() string { return p.typ }

// Publish sends the record; routing attributes travel as X- headers.
func (p *httpPublisher) Publish(ctx context.Context, evt Event) error {
	payload, err := evt.Payload()
	if err != nil {
		return err
	}

	req := p.client.R().
		SetContext(ctx).
		SetHeaders(p.headers).
		SetHeader("X-Provider-ID", evt.ProviderID).
		SetHeader("X-Date-Review", evt.Attributes()["date_review"]).
		SetBody(payload)

	resp, err := req.Execute(p.method, p.url)
	if err != nil {
		return fmt.Errorf("http publisher %s: %w", p.id, err)
	}
	if resp.IsError() {
		err := &httpclient.StatusError{Code: resp.StatusCode(), URL: p.url, Snippet: httpclient.Snippet(resp.Body())}
		p.log.ErrorObj("http publisher rejected record", "publisher_http_error", map[string]any{
			"publisher_id": p.id,
			"status":       resp.StatusCode(),
			"url":          evt.Article.URL,
		})
		return fmt.Errorf("http publisher %s: %w", p.id, err)
	}

	p.log.DebugObj("http publisher delivered record", "publisher_http_delivery", map[string]any{
		"publisher_id": p.id,
		"status":       resp.StatusCode(),
		"url":          evt.Article.URL,
	})
	return nil
}
