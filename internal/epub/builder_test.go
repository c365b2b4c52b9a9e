package epub

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"
)

func testBook() (Book, []Chapter) {
	book := Book{
		Title:       "Martial World",
		Author:      "Cocooned Cow",
		Description: "A dream to the peak.",
	}
	chapters := []Chapter{
		{ID: "ch_001", GroupTitle: "Volume 1", Title: "Chapter 1", HTML: "<p>One.</p>\n"},
		{ID: "ch_002", GroupTitle: "Volume 1", Title: "Chapter 2", HTML: "<p>Two.</p>\n"},
		{ID: "ch_003", GroupTitle: "Volume 2", Title: "Chapter 3", HTML: "<p>Three &amp; more.</p>\n"},
	}
	return book, chapters
}

func readArchive(t *testing.T, buf *bytes.Buffer) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	files := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		files[f.Name] = string(data)
	}
	return files
}

func TestBuildToBuffer(t *testing.T) {
	book, chapters := testBook()
	buf, err := NewBuilder(book, chapters).BuildToBuffer()
	if err != nil {
		t.Fatalf("BuildToBuffer() error = %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}

	// The epub container format requires mimetype first and uncompressed.
	if zr.File[0].Name != "mimetype" {
		t.Errorf("first entry = %s, want mimetype", zr.File[0].Name)
	}
	if zr.File[0].Method != zip.Store {
		t.Errorf("mimetype method = %d, want Store", zr.File[0].Method)
	}

	files := readArchive(t, buf)
	for _, name := range []string{
		"META-INF/container.xml",
		"OEBPS/content.opf",
		"OEBPS/nav.xhtml",
		"OEBPS/toc.ncx",
		"OEBPS/styles/style.css",
		"OEBPS/chapters/ch_001.xhtml",
		"OEBPS/chapters/ch_002.xhtml",
		"OEBPS/chapters/ch_003.xhtml",
	} {
		if _, ok := files[name]; !ok {
			t.Errorf("archive missing %s", name)
		}
	}

	opf := files["OEBPS/content.opf"]
	if !strings.Contains(opf, "<dc:title>Martial World</dc:title>") {
		t.Errorf("content.opf missing title:\n%s", opf)
	}
	if !strings.Contains(opf, `<itemref idref="ch_003"/>`) {
		t.Errorf("content.opf spine missing ch_003")
	}
}

func TestNavigationGroupsChapters(t *testing.T) {
	book, chapters := testBook()
	buf, err := NewBuilder(book, chapters).BuildToBuffer()
	if err != nil {
		t.Fatalf("BuildToBuffer() error = %v", err)
	}
	files := readArchive(t, buf)

	nav := files["OEBPS/nav.xhtml"]
	if !strings.Contains(nav, "<span>Volume 1</span>") || !strings.Contains(nav, "<span>Volume 2</span>") {
		t.Errorf("nav.xhtml missing group headings:\n%s", nav)
	}
	if strings.Index(nav, "Volume 1") > strings.Index(nav, "Volume 2") {
		t.Errorf("nav.xhtml groups out of order")
	}
}

func TestChapterXHTML(t *testing.T) {
	book, chapters := testBook()
	buf, err := NewBuilder(book, chapters).BuildToBuffer()
	if err != nil {
		t.Fatalf("BuildToBuffer() error = %v", err)
	}
	files := readArchive(t, buf)

	ch := files["OEBPS/chapters/ch_001.xhtml"]
	if !strings.Contains(ch, `<div class="group-title">Volume 1</div>`) {
		t.Errorf("chapter missing group heading:\n%s", ch)
	}
	if !strings.Contains(ch, "<h1>Chapter 1</h1>") {
		t.Errorf("chapter missing title heading")
	}
	if !strings.Contains(ch, "<p>One.</p>") {
		t.Errorf("chapter body not embedded")
	}
}

func TestUngroupedChaptersFlatNav(t *testing.T) {
	book := Book{Title: "Mother of Learning", Author: "nobody103"}
	chapters := []Chapter{
		{ID: "ch_001", Title: "Good Morning Brother", HTML: "<p>Zorian woke.</p>"},
	}
	buf, err := NewBuilder(book, chapters).BuildToBuffer()
	if err != nil {
		t.Fatalf("BuildToBuffer() error = %v", err)
	}
	files := readArchive(t, buf)

	nav := files["OEBPS/nav.xhtml"]
	if strings.Contains(nav, "<span>") {
		t.Errorf("ungrouped nav should have no group headings:\n%s", nav)
	}
	if !strings.Contains(nav, `<a href="chapters/ch_001.xhtml">Good Morning Brother</a>`) {
		t.Errorf("nav missing chapter entry:\n%s", nav)
	}
}
