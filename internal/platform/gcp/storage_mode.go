package gcp

import (
	"fmt"
	"net/url"
	"strings"
)

type ObjectStorageMode string

const (
	ObjectStorageModeGCS         ObjectStorageMode = "gcs"
	ObjectStorageModeGCSEmulator ObjectStorageMode = "gcs_emulator"
	// ObjectStorageModeMemory keeps uploads in process. Used for dry runs.
	ObjectStorageModeMemory ObjectStorageMode = "memory"
)

// ObjectStorageConfig selects where chat attachments are written.
// Credentials is inline service-account JSON or a path to one; empty means
// application default credentials.
type ObjectStorageConfig struct {
	Mode                  ObjectStorageMode
	EmulatorHost          string
	CompatibilityFallback bool
	Bucket                string
	CDNDomain             string
	PublicBaseURL         string
	Credentials           string
}

func IsSupportedObjectStorageMode(mode ObjectStorageMode) bool {
	switch mode {
	case ObjectStorageModeGCS, ObjectStorageModeGCSEmulator, ObjectStorageModeMemory:
		return true
	default:
		return false
	}
}

func (cfg ObjectStorageConfig) IsEmulatorMode() bool {
	return cfg.Mode == ObjectStorageModeGCSEmulator
}

func (cfg ObjectStorageConfig) ModeSource() string {
	if cfg.CompatibilityFallback {
		return "compatibility_fallback"
	}
	return "explicit_or_default"
}

// ParseObjectStorageMode normalises a configured mode. An empty mode falls
// back to the emulator when emulatorHost is set, else to real GCS; fallback
// reports that the mode was inferred.
func ParseObjectStorageMode(raw, emulatorHost string) (mode ObjectStorageMode, fallback bool, err error) {
	mode = ObjectStorageMode(strings.ToLower(strings.TrimSpace(raw)))
	if mode == "" {
		if strings.TrimSpace(emulatorHost) != "" {
			return ObjectStorageModeGCSEmulator, true, nil
		}
		return ObjectStorageModeGCS, false, nil
	}
	if !IsSupportedObjectStorageMode(mode) {
		return mode, false, &ObjectStorageConfigError{
			Code: ObjectStorageConfigErrorInvalidMode,
			Mode: strings.TrimSpace(raw),
		}
	}
	return mode, false, nil
}

type ObjectStorageConfigErrorCode string

const (
	ObjectStorageConfigErrorInvalidMode         ObjectStorageConfigErrorCode = "invalid_mode"
	ObjectStorageConfigErrorMissingEmulatorHost ObjectStorageConfigErrorCode = "missing_emulator_host"
	ObjectStorageConfigErrorInvalidEmulatorHost ObjectStorageConfigErrorCode = "invalid_emulator_host"
	ObjectStorageConfigErrorMissingBucket       ObjectStorageConfigErrorCode = "missing_bucket"
)

type ObjectStorageConfigError struct {
	Code         ObjectStorageConfigErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *ObjectStorageConfigError) Error() string {
	if e == nil {
		return "invalid object storage config"
	}
	switch e.Code {
	case ObjectStorageConfigErrorInvalidMode:
		return fmt.Sprintf("invalid storage mode %q (allowed: %q, %q, %q)",
			e.Mode, ObjectStorageModeGCS, ObjectStorageModeGCSEmulator, ObjectStorageModeMemory)
	case ObjectStorageConfigErrorMissingBucket:
		return fmt.Sprintf("storage mode %q needs a media bucket name", e.Mode)
	case ObjectStorageConfigErrorMissingEmulatorHost:
		return fmt.Sprintf("storage mode %q needs an emulator host", e.Mode)
	case ObjectStorageConfigErrorInvalidEmulatorHost:
		return fmt.Sprintf("invalid emulator host %q; expected absolute URL like http://fake-gcs:4443", e.EmulatorHost)
	default:
		return "invalid object storage config"
	}
}

func (e *ObjectStorageConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ValidateObjectStorageConfig checks that cfg can open a bucket. Memory mode
// needs nothing else.
func ValidateObjectStorageConfig(cfg ObjectStorageConfig) error {
	if !IsSupportedObjectStorageMode(cfg.Mode) {
		return &ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidMode, Mode: string(cfg.Mode)}
	}
	if cfg.Mode == ObjectStorageModeMemory {
		return nil
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return &ObjectStorageConfigError{Code: ObjectStorageConfigErrorMissingBucket, Mode: string(cfg.Mode)}
	}
	if !cfg.IsEmulatorMode() {
		return nil
	}
	if strings.TrimSpace(cfg.EmulatorHost) == "" {
		return &ObjectStorageConfigError{Code: ObjectStorageConfigErrorMissingEmulatorHost, Mode: string(cfg.Mode)}
	}
	u, err := url.Parse(cfg.EmulatorHost)
	if err != nil || strings.TrimSpace(u.Scheme) == "" || strings.TrimSpace(u.Host) == "" {
		return &ObjectStorageConfigError{
			Code:         ObjectStorageConfigErrorInvalidEmulatorHost,
			Mode:         string(cfg.Mode),
			EmulatorHost: cfg.EmulatorHost,
			Cause:        err,
		}
	}
	return nil
}
