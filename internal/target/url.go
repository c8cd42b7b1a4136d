// Package target validates and normalizes the page URLs submitted for
// scraping before they are sent to the service
package target

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/Almahr1/skrape/internal/apierror"
)

type URLNormalizer struct {
	LowercaseHost      bool
	RemoveDefaultPorts bool
	Mutex              sync.RWMutex
}

type URLValidator struct {
	AllowedSchemes []string
	MaxURLLength   int
	Mutex          sync.RWMutex
}

// URLDeduplicator remembers URLs already accepted in a batch
type URLDeduplicator struct {
	URLSeen map[string]struct{}
	Mutex   sync.RWMutex
}

// URLProcessor runs normalization, validation and deduplication in sequence
type URLProcessor struct {
	Normalizer *URLNormalizer
	Validator  *URLValidator
}

func NewURLNormalizer() *URLNormalizer {
	return &URLNormalizer{
		LowercaseHost:      true,
		RemoveDefaultPorts: true,
	}
}

func NewURLValidator() *URLValidator {
	return &URLValidator{
		AllowedSchemes: []string{"http", "https"},
		MaxURLLength:   2048,
	}
}

func NewURLDeduplicator() *URLDeduplicator {
	return &URLDeduplicator{
		URLSeen: make(map[string]struct{}),
	}
}

func NewURLProcessor() *URLProcessor {
	return &URLProcessor{
		Normalizer: NewURLNormalizer(),
		Validator:  NewURLValidator(),
	}
}

var defaultProcessor = NewURLProcessor()

// Single validates one target URL with the default processor
func Single(rawURL string) (string, error) {
	return defaultProcessor.Process(rawURL)
}

// Batch validates a list of target URLs with the default processor
func Batch(urls []string) ([]string, error) {
	return defaultProcessor.ProcessBatch(urls)
}

// Process normalizes and validates rawURL. Errors wrap apierror.ErrInvalidInput.
func (p *URLProcessor) Process(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	u, err := ParseURL(trimmed)
	if err != nil {
		return "", err
	}

	if err := p.Validator.Validate(u, trimmed); err != nil {
		return "", err
	}

	return p.Normalizer.Canonicalize(u), nil
}

// ProcessBatch processes every URL and drops repeats, keeping first-seen order
func (p *URLProcessor) ProcessBatch(urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, apierror.Invalid("at least one url is required")
	}

	dedup := NewURLDeduplicator()
	out := make([]string, 0, len(urls))
	for i, raw := range urls {
		normalized, err := p.Process(raw)
		if err != nil {
			return nil, fmt.Errorf("urls[%d]: %w", i, err)
		}
		if dedup.IsDuplicate(normalized) {
			continue
		}
		dedup.AddURL(normalized)
		out = append(out, normalized)
	}
	return out, nil
}

func ParseURL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, apierror.Invalid("empty URL")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, apierror.Invalid("failed to parse URL %q: %v", rawURL, err)
	}

	if u.Scheme == "" {
		return nil, apierror.Invalid("URL %q missing scheme", rawURL)
	}

	return u, nil
}

// Validate checks scheme, host and length of an already parsed URL
func (v *URLValidator) Validate(u *url.URL, rawURL string) error {
	v.Mutex.RLock()
	defer v.Mutex.RUnlock()

	if !v.validateScheme(u.Scheme) {
		return apierror.Invalid("URL %q has unsupported scheme %q", rawURL, u.Scheme)
	}
	if u.Hostname() == "" {
		return apierror.Invalid("URL %q has no host", rawURL)
	}
	if v.MaxURLLength > 0 && len(rawURL) > v.MaxURLLength {
		return apierror.Invalid("URL exceeds %d characters", v.MaxURLLength)
	}
	return nil
}

func (v *URLValidator) validateScheme(scheme string) bool {
	if len(v.AllowedSchemes) == 0 {
		return true // No restrictions
	}

	for _, allowed := range v.AllowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}

	return false
}

// Canonicalize returns u with host case and default ports normalized.
// Path, query and fragment are left untouched since the page may depend on them.
func (n *URLNormalizer) Canonicalize(parsedURL *url.URL) string {
	n.Mutex.RLock()
	defer n.Mutex.RUnlock()

	// Work on a copy so the caller's URL is untouched
	u := *parsedURL
	u.Scheme = strings.ToLower(u.Scheme)

	if n.LowercaseHost {
		u.Host = strings.ToLower(u.Host)
	}

	if n.RemoveDefaultPorts {
		u.Host = RemoveDefaultPort(u.Host, u.Scheme)
	}

	return u.String()
}

func (d *URLDeduplicator) IsDuplicate(url string) bool {
	d.Mutex.RLock()
	defer d.Mutex.RUnlock()
	_, exists := d.URLSeen[url]
	return exists
}

func (d *URLDeduplicator) AddURL(url string) {
	d.Mutex.Lock()
	defer d.Mutex.Unlock()
	d.URLSeen[url] = struct{}{}
}

func RemoveDefaultPort(host, scheme string) string {
	if (scheme == "http" && strings.HasSuffix(host, ":80")) ||
		(scheme == "https" && strings.HasSuffix(host, ":443")) {
		return host[:strings.LastIndex(host, ":")]
	}
	return host
}
