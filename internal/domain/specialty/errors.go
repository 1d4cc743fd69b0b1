package specialty

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrManifestInvalid   = errors.New("pack manifest is invalid")
	ErrPackNotFound      = errors.New("pack not found")
	ErrDependencyMissing = errors.New("pack dependency is not enabled")
	ErrSettingNotFound   = errors.New("pack setting not found")
	ErrStorage           = errors.New("specialty settings storage failure")
	ErrInvalidRequest    = errors.New("invalid specialty request")
)

// Violation is a single manifest schema failure.
type Violation struct {
	Path       string `json:"path"`
	Constraint string `json:"constraint"`
	Message    string `json:"message"`
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// ManifestInvalidError carries every violation found in a pack manifest.
type ManifestInvalidError struct {
	Slug       string
	Version    string
	Violations []Violation
}

func (e *ManifestInvalidError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.String())
	}
	id := e.Slug
	if e.Version != "" {
		id += ":" + e.Version
	}
	if id == "" {
		return fmt.Sprintf("pack validation failed: %s", strings.Join(msgs, "; "))
	}
	return fmt.Sprintf("pack %s validation failed: %s", id, strings.Join(msgs, "; "))
}

func (e *ManifestInvalidError) Is(target error) bool { return target == ErrManifestInvalid }

// DependencyMissingError blocks enablement of Slug until Missing is enabled at the same scope.
type DependencyMissingError struct {
	Slug    string
	Missing string
}

func (e *DependencyMissingError) Error() string {
	return fmt.Sprintf("missing dependency for %s: %s must be enabled first", e.Slug, e.Missing)
}

func (e *DependencyMissingError) Is(target error) bool { return target == ErrDependencyMissing }

// StorageError wraps a failure from the settings store with the operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func invalidRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
