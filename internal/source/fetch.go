package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/avast/retry-go/v4"
)

const (
	fetchAttempts = 3
	fetchDelay    = 2 * time.Second
	userAgent     = "bindery/1.0 (+https://github.com/jackzampolin/bindery)"
)

// fetcher wraps an HTTP client with the bounded fixed-delay retry every
// strategy applies to its own network fetches.
type fetcher struct {
	client *http.Client
}

func newFetcher(client *http.Client) *fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &fetcher{client: client}
}

// document fetches url and parses the response body as HTML. Server errors
// and transport failures are retried; a 4xx is surfaced immediately since
// retrying it cannot help.
func (f *fetcher) document(ctx context.Context, url string) (*goquery.Document, error) {
	var doc *goquery.Document

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("User-Agent", userAgent)

			resp, err := f.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				return fmt.Errorf("status %d", resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				return retry.Unrecoverable(fmt.Errorf("status %d", resp.StatusCode))
			}

			doc, err = goquery.NewDocumentFromReader(resp.Body)
			return err
		},
		retry.Attempts(fetchAttempts),
		retry.Delay(fetchDelay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %v", ErrFetchFailed, url, err)
	}
	return doc, nil
}
