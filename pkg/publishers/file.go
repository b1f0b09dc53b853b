package publishers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Adda-Baaj/khobor-scrapers/internal/domain"
)

// jsonLine is the file form of a record. Records that passed the date filter
// without a publication date carry date_review=true; other lines hold the
// public schema only.
type jsonLine struct {
	domain.ArticleRecord
	DateReview bool `json:"date_review,omitempty"`
}

// filePublisher appends one JSON record per line to a file or stdout.
type filePublisher struct {
	id  string
	typ string

	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
}

func newFilePublisher(_ context.Context, cfg PublisherConfig, _ Logger) (Publisher, error) {
	if cfg.File == nil {
		return nil, fmt.Errorf("publisher %q missing file configuration", cfg.ID)
	}

	if cfg.File.Path == StdoutPath {
		return newWriterPublisher(cfg.ID, os.Stdout, nil), nil
	}

	if dir := filepath.Dir(cfg.File.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("publisher %q: create output dir: %w", cfg.ID, err)
		}
	}
	f, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("publisher %q: open output file: %w", cfg.ID, err)
	}
	return newWriterPublisher(cfg.ID, f, f), nil
}

func newWriterPublisher(id string, w io.Writer, closer io.Closer) *filePublisher {
	return &filePublisher{id: id, typ: TypeFile, w: bufio.NewWriter(w), closer: closer}
}

func (p *filePublisher) ID() string   { return p.id }
func (p *filePublisher) Type() string { return p.typ }

// Publish writes and flushes one line so partial sessions leave complete records.
func (p *filePublisher) Publish(_ context.Context, evt Event) error {
	payload, err := json.Marshal(jsonLine{ArticleRecord: evt.Article, DateReview: evt.Article.Meta.NeedsReview})
	if err != nil {
		return fmt.Errorf("marshal article: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.w.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := p.w.Flush(); err != nil {
		return fmt.Errorf("flush record: %w", err)
	}
	return nil
}

func (p *filePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.w.Flush(); err != nil {
		return err
	}
	if p.closer != nil {
		return p.closer.Close()
	}
	return nil
}
