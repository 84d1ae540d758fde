package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"usada-checkout/internal/logger"

	"go.uber.org/zap"
)

var keyPattern = regexp.MustCompile(`^[a-z0-9_.-]+$`)

// fileStore keeps each slot in its own file under dir. Writes go through
// a temp file plus rename so a crash mid-write leaves the previous blob
// intact rather than a truncated one.
type fileStore struct {
	dir string
}

func NewFileStore(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &fileStore{dir: dir}, nil
}

func (s *fileStore) path(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("invalid storage key: %q", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}

func (s *fileStore) Read(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		logger.FromCtx(ctx).Error("failed to read storage slot",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, err
	}

	return data, nil
}

func (s *fileStore) Write(ctx context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		logger.FromCtx(ctx).Error("failed to write storage slot",
			zap.String("key", key),
			zap.Error(err),
		)
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		logger.FromCtx(ctx).Error("failed to commit storage slot",
			zap.String("key", key),
			zap.Error(err),
		)
		return err
	}

	return nil
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
