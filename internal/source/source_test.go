package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry(
		NewNovelFull("", nil),
		NewRoyalRoad("", nil),
	)

	s, err := reg.Get("novelfull")
	if err != nil {
		t.Fatalf("Get(novelfull) error = %v", err)
	}
	if s.Tag() != "novelfull" {
		t.Errorf("Tag() = %s", s.Tag())
	}

	if _, err := reg.Get("unknown"); !errors.Is(err, ErrUnsupportedSource) {
		t.Errorf("Get(unknown) = %v, want ErrUnsupportedSource", err)
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry(NewNovelFull("https://nf.example.com", nil))

	tests := []struct {
		name    string
		novelID string
		wantURL string
		wantErr error
	}{
		{"valid", "novelfull:martial-world", "https://nf.example.com/martial-world.html", nil},
		{"unknown tag", "webnovel:martial-world", "", ErrUnsupportedSource},
		{"no separator", "martial-world", "", ErrBadNovelID},
		{"empty slug", "novelfull:", "", ErrBadNovelID},
		{"empty tag", ":martial-world", "", ErrBadNovelID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, url, err := reg.Resolve(tt.novelID)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if url != tt.wantURL {
				t.Errorf("Resolve() url = %s, want %s", url, tt.wantURL)
			}
		})
	}
}

const novelFullPage1 = `<html><body>
<h3 class="title">Martial World</h3>
<div class="info"><a href="/author/cocooned-cow">Cocooned Cow</a></div>
<div class="desc-text">A dream to the peak.</div>
<ul class="list-chapter">
  <li class="volume">Volume 1: Southern Continent</li>
  <li><a href="/martial-world/chapter-1.html">Chapter 1</a></li>
  <li><a href="/martial-world/chapter-2.html">Chapter 2</a></li>
</ul>
<ul class="pagination"><li class="last"><a href="/martial-world.html?page=2">Last</a></li></ul>
</body></html>`

// Page 2 has no volume heading of its own: its chapters still belong to the
// volume announced on page 1.
const novelFullPage2 = `<html><body>
<h3 class="title">Martial World</h3>
<ul class="list-chapter">
  <li><a href="/martial-world/chapter-3.html">Chapter 3</a></li>
  <li class="volume">Volume 2: Divine Realm</li>
  <li><a href="/martial-world/chapter-4.html">Chapter 4</a></li>
</ul>
</body></html>`

func newNovelFullServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/martial-world.html", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(novelFullPage2))
			return
		}
		_, _ = w.Write([]byte(novelFullPage1))
	})
	mux.HandleFunc("/martial-world/chapter-1.html", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div id="chapter-content"><p>First line.</p><p>  </p><p>Second line.</p></div></body></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNovelFullFetchNovelIndex(t *testing.T) {
	srv := newNovelFullServer(t)
	s := NewNovelFull(srv.URL, srv.Client())

	index, err := s.FetchNovelIndex(context.Background(), s.NovelURL("martial-world"))
	if err != nil {
		t.Fatalf("FetchNovelIndex() error = %v", err)
	}

	if index.Title != "Martial World" {
		t.Errorf("title = %q", index.Title)
	}
	if index.Author != "Cocooned Cow" {
		t.Errorf("author = %q", index.Author)
	}
	if len(index.Chapters) != 4 {
		t.Fatalf("chapters = %d, want 4", len(index.Chapters))
	}

	// Chapter 3 sits on page 2 but belongs to the volume opened on page 1.
	wantGroups := []string{
		"Volume 1: Southern Continent",
		"Volume 1: Southern Continent",
		"Volume 1: Southern Continent",
		"Volume 2: Divine Realm",
	}
	for i, want := range wantGroups {
		if index.Chapters[i].GroupTitle != want {
			t.Errorf("chapter %d group = %q, want %q", i+1, index.Chapters[i].GroupTitle, want)
		}
	}
	if index.Chapters[0].URL != srv.URL+"/martial-world/chapter-1.html" {
		t.Errorf("chapter 1 URL = %s", index.Chapters[0].URL)
	}
}

func TestNovelFullFetchChapterContent(t *testing.T) {
	srv := newNovelFullServer(t)
	s := NewNovelFull(srv.URL, srv.Client())

	content, err := s.FetchChapterContent(context.Background(), srv.URL+"/martial-world/chapter-1.html")
	if err != nil {
		t.Fatalf("FetchChapterContent() error = %v", err)
	}
	want := "<p>First line.</p>\n<p>Second line.</p>\n"
	if content != want {
		t.Errorf("content = %q, want %q", content, want)
	}
}

func TestRoyalRoadFetchNovelIndex(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fiction/mother-of-learning", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body>
<div class="fic-title"><h1>Mother of Learning</h1><a href="/profile/1">nobody103</a></div>
<div class="description">A time loop story.</div>
<table id="chapters"><tbody>
  <tr><td><a href="/fiction/mother-of-learning/chapter/1">1. Good Morning Brother</a></td></tr>
  <tr><td><a href="/fiction/mother-of-learning/chapter/2">2. Life's Little Problems</a></td></tr>
</tbody></table>
</body></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	s := NewRoyalRoad(srv.URL, srv.Client())
	index, err := s.FetchNovelIndex(context.Background(), s.NovelURL("mother-of-learning"))
	if err != nil {
		t.Fatalf("FetchNovelIndex() error = %v", err)
	}
	if index.Title != "Mother of Learning" || len(index.Chapters) != 2 {
		t.Errorf("index = %+v", index)
	}
	if index.Chapters[0].GroupTitle != "" {
		t.Errorf("royalroad chapters should not carry a group, got %q", index.Chapters[0].GroupTitle)
	}
}

func TestFetchRetriesThenFails(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	f := &fetcher{client: srv.Client()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := f.document(ctx, srv.URL+"/whatever")
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("document() = %v, want ErrFetchFailed", err)
	}
	if calls != fetchAttempts {
		t.Errorf("calls = %d, want %d", calls, fetchAttempts)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := &fetcher{client: srv.Client()}
	if _, err := f.document(context.Background(), srv.URL+"/gone"); !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("document() = %v, want ErrFetchFailed", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (4xx must not retry)", calls)
	}
}
