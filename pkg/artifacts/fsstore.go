package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalStore is a filesystem-backed Store for local development and tests.
// Production deployments supply their own Store (object storage, etc.) —
// the registry only depends on the interface, per spec.md's blob-storage
// non-goal, so no third-party SDK is wired here.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) Put(_ context.Context, projectID, contentHash string, raw []byte) (string, error) {
	dir := filepath.Join(s.root, projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}
	path := filepath.Join(dir, contentHash)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("writing artifact blob: %w", err)
	}
	return path, nil
}
