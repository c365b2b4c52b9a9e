package source

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jackzampolin/bindery/internal/novel"
)

// NovelFull scrapes novelfull-style sites: paginated chapter listings where
// a volume heading row can appear on an earlier page than the chapters that
// belong to it, so the current group title carries over between pages.
type NovelFull struct {
	baseURL string
	fetch   *fetcher
}

// NewNovelFull creates the novelfull strategy. baseURL defaults to the
// public site; tests point it at a local server.
func NewNovelFull(baseURL string, client *http.Client) *NovelFull {
	if baseURL == "" {
		baseURL = "https://novelfull.com"
	}
	return &NovelFull{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		fetch:   newFetcher(client),
	}
}

func (s *NovelFull) Tag() string { return "novelfull" }

func (s *NovelFull) NovelURL(slug string) string {
	return s.baseURL + "/" + slug + ".html"
}

// FetchNovelIndex walks every listing page in order, accumulating chapters.
func (s *NovelFull) FetchNovelIndex(ctx context.Context, url string) (*novel.Index, error) {
	doc, err := s.fetch.document(ctx, url)
	if err != nil {
		return nil, err
	}

	index := &novel.Index{
		Title:       strings.TrimSpace(doc.Find("h3.title").First().Text()),
		Author:      strings.TrimSpace(doc.Find(".info a[href*='author']").First().Text()),
		Description: strings.TrimSpace(doc.Find(".desc-text").First().Text()),
	}

	lastPage := listingPageCount(doc)
	currentGroup := ""
	for page := 1; page <= lastPage; page++ {
		pageDoc := doc
		if page > 1 {
			pageDoc, err = s.fetch.document(ctx, fmt.Sprintf("%s?page=%d", url, page))
			if err != nil {
				return nil, err
			}
		}
		currentGroup = s.collectChapters(pageDoc, index, currentGroup)
	}

	if index.Title == "" {
		return nil, fmt.Errorf("%w: no title at %s", ErrFetchFailed, url)
	}
	return index, nil
}

// collectChapters appends the page's chapter rows to the index. Volume
// heading rows update the carried group title, which is returned so the next
// page starts with the right group.
func (s *NovelFull) collectChapters(doc *goquery.Document, index *novel.Index, currentGroup string) string {
	doc.Find("ul.list-chapter li").Each(func(_ int, sel *goquery.Selection) {
		if sel.HasClass("volume") {
			if title := strings.TrimSpace(sel.Text()); title != "" {
				currentGroup = title
			}
			return
		}
		link := sel.Find("a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		index.Chapters = append(index.Chapters, novel.ChapterRef{
			GroupTitle: currentGroup,
			Title:      strings.TrimSpace(link.Text()),
			URL:        s.absoluteURL(href),
		})
	})
	return currentGroup
}

// FetchChapterContent fetches one chapter body as sanitized HTML paragraphs.
func (s *NovelFull) FetchChapterContent(ctx context.Context, url string) (string, error) {
	doc, err := s.fetch.document(ctx, url)
	if err != nil {
		return "", err
	}

	container := doc.Find("#chapter-content")
	if container.Length() == 0 {
		return "", fmt.Errorf("%w: no chapter content at %s", ErrFetchFailed, url)
	}

	var sb strings.Builder
	container.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(p.Text())
		if text == "" {
			return
		}
		sb.WriteString("<p>")
		sb.WriteString(html.EscapeString(text))
		sb.WriteString("</p>\n")
	})
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: empty chapter at %s", ErrFetchFailed, url)
	}
	return sb.String(), nil
}

func (s *NovelFull) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return s.baseURL + href
}

// listingPageCount reads the pagination control; a missing control means a
// single page.
func listingPageCount(doc *goquery.Document) int {
	last := doc.Find("ul.pagination li.last a").First()
	href, ok := last.Attr("href")
	if !ok {
		return 1
	}
	idx := strings.LastIndex(href, "page=")
	if idx < 0 {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimRight(href[idx+len("page="):], "&"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
