package domain

import (
	"path/filepath"
	"strings"
)

var knownKinds = map[ContentKind]bool{
	KindVideo: true, KindAudio: true, KindImage: true,
	KindRawText: true, KindWebPage: true,
}

// ValidateFileInfo checks that a FileInfo carries a well-formed identifier
// and a non-empty, relative (library-rooted) path.
func ValidateFileInfo(f FileInfo) error {
	if !f.FileIdentifier.Valid() {
		return NewValidationError("file_identifier", f.FileIdentifier.String(), ErrInvalidInput)
	}
	if strings.TrimSpace(f.FilePath) == "" {
		return NewValidationError("file_path", f.FilePath, ErrInvalidInput)
	}
	if filepath.IsAbs(f.FilePath) {
		return NewValidationError("file_path", f.FilePath, ErrInvalidInput)
	}
	clean := filepath.Clean(f.FilePath)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return NewValidationError("file_path", f.FilePath, ErrInvalidInput)
	}
	return nil
}

// ValidateTaskType checks that a TaskType's kind is one the engine knows
// how to execute and that its variant is non-empty.
func ValidateTaskType(t TaskType) error {
	if !knownKinds[t.Kind] {
		return NewValidationError("task_type.kind", string(t.Kind), ErrInvalidInput)
	}
	if strings.TrimSpace(t.Variant) == "" {
		return NewValidationError("task_type.variant", t.Variant, ErrInvalidInput)
	}
	return nil
}

// ValidateFingerprint checks a fingerprint is non-empty; the executor uses
// it to detect whether prior output can be reused.
func ValidateFingerprint(fp string) error {
	if strings.TrimSpace(fp) == "" {
		return NewValidationError("fingerprint", fp, ErrInvalidInput)
	}
	return nil
}
