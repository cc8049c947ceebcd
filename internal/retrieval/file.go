package retrieval

import (
	"context"
	"os"

	"github.com/personaforge/personaforge/internal/errors"
	"github.com/personaforge/personaforge/internal/models"
)

// FileRetriever resolves a package's location reference as a local file
// path. Used for single-node deployments where the secure store mounts
// decrypted content onto the filesystem.
type FileRetriever struct{}

// NewFileRetriever creates a filesystem-backed retriever
func NewFileRetriever() *FileRetriever {
	return &FileRetriever{}
}

// Retrieve reads the file at the package's location reference
func (r *FileRetriever) Retrieve(ctx context.Context, pkg models.DataPackageRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.RetrievalFailure(err, pkg.PackageID)
	}
	if pkg.LocationRef == "" {
		return nil, errors.RetrievalFailure(errors.InvalidInput("package has no location reference"), pkg.PackageID)
	}
	content, err := os.ReadFile(pkg.LocationRef)
	if err != nil {
		return nil, errors.RetrievalFailure(err, pkg.PackageID)
	}
	return content, nil
}
