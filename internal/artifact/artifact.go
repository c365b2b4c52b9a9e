// Package artifact turns a fetched novel into a deliverable e-book file and
// moves finished files into blob storage.
package artifact

import (
	"context"

	"github.com/jackzampolin/bindery/internal/novel"
)

// Artifact describes a generated e-book on local disk, ready for upload.
type Artifact struct {
	LocalPath string
	FileName  string
}

// Generator produces an e-book file from a novel's metadata and chapters.
type Generator interface {
	Generate(ctx context.Context, index *novel.Index, chapters []novel.Chapter) (*Artifact, error)
}

// BlobStorage stores finished artifacts and hands back a public URL.
type BlobStorage interface {
	// Upload stores the file at localPath under objectName and returns the
	// public URL it is reachable at.
	Upload(ctx context.Context, localPath, objectName string) (string, error)

	// Delete removes a previously uploaded object. Deleting an object that
	// does not exist is not an error.
	Delete(ctx context.Context, objectName string) error
}
