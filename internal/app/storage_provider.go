package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/neurobridge-chat/internal/observability"
	"github.com/yungbote/neurobridge-chat/internal/platform/gcp"
	"github.com/yungbote/neurobridge-chat/internal/platform/logger"
	"github.com/yungbote/neurobridge-chat/internal/upload"
)

// mediaBucket is a multipart object store that holds a client connection.
type mediaBucket interface {
	upload.ObjectStore
	Close() error
}

var newMediaBucket = func(ctx context.Context, log *logger.Logger, cfg gcp.ObjectStorageConfig) (mediaBucket, error) {
	b, err := gcp.NewMediaBucket(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	return b, nil
}

type StorageProviderBootstrapErrorCode string

const (
	StorageProviderBootstrapErrorInvalidMode         StorageProviderBootstrapErrorCode = "invalid_mode"
	StorageProviderBootstrapErrorMissingEmulatorHost StorageProviderBootstrapErrorCode = "missing_emulator_host"
	StorageProviderBootstrapErrorInvalidEmulatorHost StorageProviderBootstrapErrorCode = "invalid_emulator_host"
	StorageProviderBootstrapErrorMissingBucket       StorageProviderBootstrapErrorCode = "missing_bucket"
	StorageProviderBootstrapErrorConnectFailed       StorageProviderBootstrapErrorCode = "connect_failed"
)

type StorageProviderBootstrapError struct {
	Code         StorageProviderBootstrapErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *StorageProviderBootstrapError) Error() string {
	if e == nil {
		return "object storage bootstrap failed"
	}
	return fmt.Sprintf(
		"object storage bootstrap failed (code=%s mode=%q emulator_host=%q): %v",
		e.Code,
		e.Mode,
		e.EmulatorHost,
		e.Cause,
	)
}

func (e *StorageProviderBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func storageConfig(cfg Config) gcp.ObjectStorageConfig {
	return gcp.ObjectStorageConfig{
		Mode:                  gcp.ObjectStorageMode(strings.ToLower(strings.TrimSpace(cfg.Storage.Mode))),
		EmulatorHost:          strings.TrimSpace(cfg.Storage.EmulatorHost),
		CompatibilityFallback: cfg.StorageModeCompatFallback,
		Bucket:                strings.TrimSpace(cfg.Storage.Bucket),
		CDNDomain:             strings.TrimSpace(cfg.Storage.CDNDomain),
		PublicBaseURL:         strings.TrimSpace(cfg.Storage.PublicBaseURL),
		Credentials:           strings.TrimSpace(cfg.Storage.Credentials),
	}
}

// resolveObjectStore picks the uploader's backing store. The returned close
// func is never nil.
func resolveObjectStore(ctx context.Context, log *logger.Logger, cfg Config, metrics *observability.Metrics) (upload.ObjectStore, func() error, error) {
	storageCfg := storageConfig(cfg)
	modeSource := storageCfg.ModeSource()
	noop := func() error { return nil }

	if !gcp.IsSupportedObjectStorageMode(storageCfg.Mode) {
		err := &StorageProviderBootstrapError{
			Code:         StorageProviderBootstrapErrorInvalidMode,
			Mode:         string(storageCfg.Mode),
			EmulatorHost: storageCfg.EmulatorHost,
			Cause:        fmt.Errorf("unsupported object storage mode %q", storageCfg.Mode),
		}
		metrics.ObserveStorageBootstrap(string(storageCfg.Mode), "error", string(err.Code))
		log.Error(
			"Object storage provider selection failed",
			"mode", storageCfg.Mode,
			"mode_source", modeSource,
			"error_code", err.Code,
			"error", err,
		)
		return nil, noop, err
	}

	log.Info(
		"Selecting object storage provider",
		"mode", storageCfg.Mode,
		"mode_source", modeSource,
		"compatibility_fallback", storageCfg.CompatibilityFallback,
		"emulator_host", storageCfg.EmulatorHost,
	)

	if storageCfg.Mode == gcp.ObjectStorageModeMemory {
		metrics.ObserveStorageBootstrap(string(storageCfg.Mode), "success", "none")
		return upload.NewMemoryStore(), noop, nil
	}

	bucket, err := newMediaBucket(ctx, log, storageCfg)
	if err != nil {
		classified := classifyStorageProviderBootstrapError(storageCfg, err)
		code := storageProviderBootstrapErrorCode(classified)
		metrics.ObserveStorageBootstrap(string(storageCfg.Mode), "error", string(code))
		log.Error(
			"Object storage provider bootstrap failed",
			"mode", storageCfg.Mode,
			"mode_source", modeSource,
			"emulator_host", storageCfg.EmulatorHost,
			"error_code", code,
			"error", classified,
		)
		return nil, noop, classified
	}
	metrics.ObserveStorageBootstrap(string(storageCfg.Mode), "success", "none")
	return bucket, bucket.Close, nil
}

func classifyStorageProviderBootstrapError(storageCfg gcp.ObjectStorageConfig, err error) error {
	code := StorageProviderBootstrapErrorConnectFailed
	var cfgErr *gcp.ObjectStorageConfigError
	if errors.As(err, &cfgErr) {
		switch cfgErr.Code {
		case gcp.ObjectStorageConfigErrorInvalidMode:
			code = StorageProviderBootstrapErrorInvalidMode
		case gcp.ObjectStorageConfigErrorMissingEmulatorHost:
			code = StorageProviderBootstrapErrorMissingEmulatorHost
		case gcp.ObjectStorageConfigErrorInvalidEmulatorHost:
			code = StorageProviderBootstrapErrorInvalidEmulatorHost
		case gcp.ObjectStorageConfigErrorMissingBucket:
			code = StorageProviderBootstrapErrorMissingBucket
		}
	}
	return &StorageProviderBootstrapError{
		Code:         code,
		Mode:         string(storageCfg.Mode),
		EmulatorHost: storageCfg.EmulatorHost,
		Cause:        err,
	}
}

func storageProviderBootstrapErrorCode(err error) StorageProviderBootstrapErrorCode {
	var bootstrapErr *StorageProviderBootstrapError
	if errors.As(err, &bootstrapErr) {
		if bootstrapErr.Code != "" {
			return bootstrapErr.Code
		}
	}
	return StorageProviderBootstrapErrorConnectFailed
}
