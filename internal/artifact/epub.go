package artifact

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/jackzampolin/bindery/internal/epub"
	"github.com/jackzampolin/bindery/internal/novel"
)

// EpubGenerator renders novels as ePub files under a local output directory.
type EpubGenerator struct {
	dir string
}

// NewEpubGenerator creates a generator writing into dir.
func NewEpubGenerator(dir string) *EpubGenerator {
	return &EpubGenerator{dir: dir}
}

// Generate builds the epub on disk and returns its location. The context is
// checked between chapters so a cancelled job does not keep rendering.
func (g *EpubGenerator) Generate(ctx context.Context, index *novel.Index, chapters []novel.Chapter) (*Artifact, error) {
	if index.Title == "" {
		return nil, fmt.Errorf("novel has no title")
	}
	if len(chapters) == 0 {
		return nil, fmt.Errorf("novel has no chapters")
	}

	book := epub.Book{
		Title:       index.Title,
		Author:      index.Author,
		Description: index.Description,
	}

	ebChapters := make([]epub.Chapter, 0, len(chapters))
	for i, ch := range chapters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ebChapters = append(ebChapters, epub.Chapter{
			ID:         fmt.Sprintf("ch_%04d", i+1),
			GroupTitle: ch.Ref.GroupTitle,
			Title:      ch.Ref.Title,
			HTML:       ch.Content,
		})
	}

	fileName := slugify(index.Title) + ".epub"
	localPath := filepath.Join(g.dir, fileName)
	if err := epub.NewBuilder(book, ebChapters).Build(localPath); err != nil {
		return nil, fmt.Errorf("failed to build epub: %w", err)
	}

	return &Artifact{LocalPath: localPath, FileName: fileName}, nil
}

// slugify reduces a title to a safe lowercase file stem.
func slugify(s string) string {
	var sb strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			prevDash = false
		case !prevDash && sb.Len() > 0:
			sb.WriteRune('-')
			prevDash = true
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}
