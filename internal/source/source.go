// Package source implements the pluggable multi-site ingestion layer. Each
// supported site registers a Strategy keyed by its source tag; selection is a
// closed dispatch table built at startup, and unknown tags are a checked
// error rather than a panic.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackzampolin/bindery/internal/novel"
)

// Sentinel errors for the source package.
var (
	// ErrUnsupportedSource is returned when no strategy is registered for a
	// source tag.
	ErrUnsupportedSource = errors.New("unsupported source")

	// ErrFetchFailed is returned when a site fetch keeps failing after the
	// strategy's internal retries are exhausted.
	ErrFetchFailed = errors.New("upstream fetch failed")

	// ErrBadNovelID is returned when a novel id does not parse as
	// "sourceTag:bookSlug".
	ErrBadNovelID = errors.New("malformed novel id")
)

// Strategy is a site-specific adapter for fetching a novel's table of
// contents and chapter bodies. Implementations retry their own network
// fetches a bounded number of times before surfacing ErrFetchFailed.
type Strategy interface {
	// Tag returns the source tag this strategy serves.
	Tag() string

	// NovelURL builds the canonical address for a book slug.
	NovelURL(slug string) string

	// FetchNovelIndex fetches the full, ordered table of contents.
	FetchNovelIndex(ctx context.Context, url string) (*novel.Index, error)

	// FetchChapterContent fetches one chapter body.
	FetchChapterContent(ctx context.Context, url string) (string, error)
}

// Registry holds the strategies registered at startup.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds a registry from the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	m := make(map[string]Strategy, len(strategies))
	for _, s := range strategies {
		m[s.Tag()] = s
	}
	return &Registry{strategies: m}
}

// Get returns the strategy for a source tag.
func (r *Registry) Get(tag string) (Strategy, error) {
	s, ok := r.strategies[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, tag)
	}
	return s, nil
}

// Tags returns the registered source tags.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.strategies))
	for tag := range r.strategies {
		tags = append(tags, tag)
	}
	return tags
}

// Resolve splits a novel id of the form "sourceTag:bookSlug" and returns the
// matching strategy together with the book's canonical address.
func (r *Registry) Resolve(novelID string) (Strategy, string, error) {
	tag, slug, ok := strings.Cut(novelID, ":")
	if !ok || tag == "" || slug == "" {
		return nil, "", fmt.Errorf("%w: %q", ErrBadNovelID, novelID)
	}
	s, err := r.Get(tag)
	if err != nil {
		return nil, "", err
	}
	return s, s.NovelURL(slug), nil
}
