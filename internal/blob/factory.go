package blob

import (
	"context"
	"errors"
	"fmt"

	fsstore "forestcensus/internal/infra/blob/fs"
	memorystore "forestcensus/internal/infra/blob/memory"
	s3store "forestcensus/internal/infra/blob/s3"
)

// S3Config configures the S3 driver.
type S3Config = s3store.Config

// Config selects and configures a blob backend.
type Config struct {
	Driver    Driver
	FSRoot    string // driver=fs; default ./blobdata
	FSBaseURL string // driver=fs; optional public base for photo URLs
	S3        S3Config
}

// Open constructs the configured backend. An empty driver selects the filesystem.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSRoot, cfg.FSBaseURL)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewFilesystem constructs a filesystem-backed Store rooted at root.
func NewFilesystem(root, baseURL string) (Store, error) {
	return fsstore.New(root, baseURL)
}

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memorystore.New() }

// NewS3 constructs an S3-backed Store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return s3store.New(ctx, cfg)
}

// NewMockS3ForTests exposes the fake-transport S3 store for cross-package tests.
func NewMockS3ForTests() Store { return s3store.NewMockForTests() }

// DeletePrefix removes every blob under prefix and returns the number removed.
// It keeps going after individual failures and reports them joined.
func DeletePrefix(ctx context.Context, store Store, prefix string) (int, error) {
	infos, err := store.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	var errs []error
	removed := 0
	for _, info := range infos {
		ok, err := store.Delete(ctx, info.Key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
		}
	}
	return removed, errors.Join(errs...)
}
