package retrieval

import (
	"context"
	"sync"

	"github.com/personaforge/personaforge/internal/errors"
	"github.com/personaforge/personaforge/internal/models"
)

// Retriever fetches and decrypts the content behind a data package reference.
// Fetch, decryption, and key management live in an external collaborator;
// this interface is the orchestrator's only view of it.
type Retriever interface {
	Retrieve(ctx context.Context, pkg models.DataPackageRef) ([]byte, error)
}

// StaticRetriever serves packages from memory, used in tests
type StaticRetriever struct {
	mu       sync.RWMutex
	packages map[string][]byte // packageID -> content
	fail     map[string]bool
}

// NewStaticRetriever creates an empty in-memory retriever
func NewStaticRetriever() *StaticRetriever {
	return &StaticRetriever{
		packages: make(map[string][]byte),
		fail:     make(map[string]bool),
	}
}

// Put registers content for a package
func (r *StaticRetriever) Put(packageID string, content []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packages[packageID] = content
}

// FailNext makes future retrievals of packageID fail
func (r *StaticRetriever) FailNext(packageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[packageID] = true
}

// Retrieve returns registered content or a RetrievalFailure
func (r *StaticRetriever) Retrieve(_ context.Context, pkg models.DataPackageRef) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fail[pkg.PackageID] {
		return nil, errors.RetrievalFailure(errors.New(errors.KindInternal, "simulated failure"), pkg.PackageID)
	}
	content, ok := r.packages[pkg.PackageID]
	if !ok {
		return nil, errors.RetrievalFailure(errors.NotFound("package content", pkg.PackageID), pkg.PackageID)
	}
	return content, nil
}
