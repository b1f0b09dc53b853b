package pipeline

import (
	"net/url"
	"strings"
	"sync"

	"github.com/Adda-Baaj/khobor-scrapers/internal/domain"
)

// SeenStore persists identity keys across sessions.
type SeenStore interface {
	Seen(keys ...string) (bool, error)
	MarkSeen(keys ...string) error
}

// Deduper is the session-wide identity set. A record is a duplicate when its
// URL or its GUID was already accepted, so a GUID rewritten by the publisher
// still collides on the URL. Check and insert happen under one lock.
//
// The persisted store is only read here. Keys reach it through Confirm once
// the record was delivered, so records that were filtered, cut by a budget or
// failed delivery stay eligible in later sessions.
type Deduper struct {
	mu    sync.Mutex
	keys  map[string]struct{}
	store SeenStore
	// storeErrs counts persisted-store failures; the in-memory set still
	// decides in that case.
	storeErrs int
}

// NewDeduper returns an empty set. store may be nil.
func NewDeduper(store SeenStore) *Deduper {
	return &Deduper{keys: make(map[string]struct{}), store: store}
}

// Apply is the dedup stage.
func (d *Deduper) Apply(rec *domain.ArticleRecord) *Drop {
	keys := RecordKeys(rec)
	if len(keys) == 0 {
		return &Drop{Stage: StageDedup, Reason: "no identity key"}
	}
	if !d.Add(keys...) {
		return &Drop{Stage: StageDedup, Reason: "duplicate"}
	}
	return nil
}

// Add inserts keys into the session set if none of them is present there or
// in the persisted store, and reports whether it did.
func (d *Deduper) Add(keys ...string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, k := range keys {
		if _, ok := d.keys[k]; ok {
			return false
		}
	}
	if d.store != nil {
		seen, err := d.store.Seen(keys...)
		if err != nil {
			d.storeErrs++
		} else if seen {
			return false
		}
	}

	for _, k := range keys {
		d.keys[k] = struct{}{}
	}
	return true
}

// Confirm persists the identity keys of a delivered record. It is a no-op
// without a store.
func (d *Deduper) Confirm(rec domain.ArticleRecord) error {
	if d.store == nil {
		return nil
	}
	keys := RecordKeys(&rec)
	if len(keys) == 0 {
		return nil
	}
	if err := d.store.MarkSeen(keys...); err != nil {
		d.mu.Lock()
		d.storeErrs++
		d.mu.Unlock()
		return err
	}
	return nil
}

// StoreErrors returns how many persisted-store calls failed.
func (d *Deduper) StoreErrors() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.storeErrs
}

// Len returns the number of keys held in memory.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.keys)
}

// RecordKeys returns every identity key of rec: its URL, its GUID and the URL
// it was fetched from when that differs.
func RecordKeys(rec *domain.ArticleRecord) []string {
	keys := IdentityKeys(rec.SpiderName, rec.URL, rec.Meta.GUID)
	if rec.Meta.FetchURL != "" && rec.Meta.FetchURL != rec.URL {
		keys = append(keys, IdentityKeys(rec.SpiderName, rec.Meta.FetchURL, "")...)
	}
	return keys
}

// IdentityKeys returns the namespaced keys for a URL and optional GUID. URLs
// are global; GUIDs are only unique within the feed of one provider.
func IdentityKeys(provider, rawURL, guid string) []string {
	var keys []string
	if u := NormalizeURL(rawURL); u != "" {
		keys = append(keys, "url:"+u)
	}
	if g := strings.TrimSpace(guid); g != "" {
		keys = append(keys, "guid:"+strings.TrimSpace(provider)+":"+g)
	}
	return keys
}

// NormalizeURL lowercases scheme and host, drops the fragment, default ports
// and a trailing slash so trivially different spellings compare equal.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443") {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	return u.String()
}
