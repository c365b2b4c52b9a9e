package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jackzampolin/bindery/internal/novel"
)

// RoyalRoad scrapes royalroad-style fiction pages: a single page carries the
// full chapter table, so no pagination or group carry-over is needed.
type RoyalRoad struct {
	baseURL string
	fetch   *fetcher
}

// NewRoyalRoad creates the royalroad strategy.
func NewRoyalRoad(baseURL string, client *http.Client) *RoyalRoad {
	if baseURL == "" {
		baseURL = "https://www.royalroad.com"
	}
	return &RoyalRoad{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		fetch:   newFetcher(client),
	}
}

func (s *RoyalRoad) Tag() string { return "royalroad" }

func (s *RoyalRoad) NovelURL(slug string) string {
	return s.baseURL + "/fiction/" + slug
}

func (s *RoyalRoad) FetchNovelIndex(ctx context.Context, url string) (*novel.Index, error) {
	doc, err := s.fetch.document(ctx, url)
	if err != nil {
		return nil, err
	}

	index := &novel.Index{
		Title:       strings.TrimSpace(doc.Find("div.fic-title h1").First().Text()),
		Author:      strings.TrimSpace(doc.Find("div.fic-title a").First().Text()),
		Description: strings.TrimSpace(doc.Find("div.description").First().Text()),
	}

	doc.Find("table#chapters tbody tr").Each(func(_ int, row *goquery.Selection) {
		link := row.Find("a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		index.Chapters = append(index.Chapters, novel.ChapterRef{
			Title: strings.TrimSpace(link.Text()),
			URL:   s.absoluteURL(href),
		})
	})

	if index.Title == "" {
		return nil, fmt.Errorf("%w: no title at %s", ErrFetchFailed, url)
	}
	return index, nil
}

func (s *RoyalRoad) FetchChapterContent(ctx context.Context, url string) (string, error) {
	doc, err := s.fetch.document(ctx, url)
	if err != nil {
		return "", err
	}

	content := doc.Find("div.chapter-content")
	if content.Length() == 0 {
		return "", fmt.Errorf("%w: no chapter content at %s", ErrFetchFailed, url)
	}

	html, err := content.Html()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrFetchFailed, url, err)
	}
	html = strings.TrimSpace(html)
	if html == "" {
		return "", fmt.Errorf("%w: empty chapter at %s", ErrFetchFailed, url)
	}
	return html, nil
}

func (s *RoyalRoad) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return s.baseURL + href
}
