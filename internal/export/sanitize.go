package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	defaultOutputName = "export"
	maxOutputNameLen  = 120
)

var outputExtensions = map[string]bool{".mp4": true, ".mov": true, ".mkv": true}

// SanitizeName strips control characters and replaces anything outside a small
// safe set so the result can be used as a file name or EDL comment.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}

// ValidateOutputDir accepts only clean, existing directories.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("output directory is required")
	}

	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return errors.New("output directory cannot contain path traversal")
		}
	}

	if filepath.Clean(dir) != dir {
		return errors.New("output directory must be a clean path")
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New("output directory does not exist")
		}
		return fmt.Errorf("invalid output directory: %w", err)
	}
	if !info.IsDir() {
		return errors.New("output directory is not a directory")
	}
	return nil
}

// ResolveOutputPath validates dir and builds the output file path for name.
// A missing or unsupported extension becomes .mp4.
func ResolveOutputPath(dir, name string) (string, error) {
	if err := ValidateOutputDir(dir); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !outputExtensions[ext] {
		ext = ".mp4"
	} else {
		name = name[:len(name)-len(ext)]
	}
	base := strings.Trim(SanitizeName(name, maxOutputNameLen), ". ")
	if base == "" {
		base = defaultOutputName
	}
	return filepath.Join(dir, base+ext), nil
}
