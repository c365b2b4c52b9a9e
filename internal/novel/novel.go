// Package novel provides shared types describing a web-serialized novel.
// This package has no dependencies on other bindery packages to avoid import cycles.
package novel

// ChapterRef is one entry in a novel's table of contents.
type ChapterRef struct {
	// GroupTitle is the volume or arc heading the chapter belongs to.
	// Empty when the source site does not group chapters.
	GroupTitle string

	// Title is the chapter's own title.
	Title string

	// URL is the source locator for the chapter content.
	URL string
}

// Index is the fetched table of contents for a novel.
// It is a transient ingestion artifact, consumed once per conversion and
// never persisted.
type Index struct {
	Title       string
	Author      string
	Description string
	Chapters    []ChapterRef
}

// Chapter is a fetched chapter body paired with its table-of-contents entry.
type Chapter struct {
	Ref     ChapterRef
	Content string
}
