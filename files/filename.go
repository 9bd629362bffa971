package files

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/teranos/vidget/errors"
)

// maxFilenameLength is the maximum allowed filename length (common filesystem limit).
const maxFilenameLength = 255

// ValidateFilename rejects names that could address anything outside a
// job's own output directory.
func ValidateFilename(name string) error {
	switch {
	case name == "":
		return errors.NewInvalidRequestError("filename is required")
	case name == "." || name == "..":
		return errors.NewInvalidRequestError("filename %q is not allowed", name)
	case strings.ContainsAny(name, `/\`):
		return errors.NewInvalidRequestError("filename must not contain path separators")
	case strings.ContainsRune(name, 0):
		return errors.NewInvalidRequestError("filename must not contain NUL")
	case len(name) > maxFilenameLength:
		return errors.NewInvalidRequestError("filename exceeds %d bytes", maxFilenameLength)
	case filepath.Base(name) != name || filepath.IsAbs(name):
		return errors.NewInvalidRequestError("filename %q is not a plain name", name)
	}
	return nil
}

// dangerousChars contains characters that must be replaced in header filenames.
var dangerousChars = map[rune]bool{
	'"':  true, // Can break Content-Disposition header quotes
	'\\': true,
	'/':  true,
	':':  true,
	'\n': true, // HTTP header injection
	'\r': true,
}

// SanitizeFilename makes a name safe for a Content-Disposition header.
// Unicode is preserved; control and separator characters become underscores.
func SanitizeFilename(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if r < 32 || r == 127 || dangerousChars[r] {
			sb.WriteRune('_')
		} else {
			sb.WriteRune(r)
		}
	}

	result := strings.TrimSpace(sb.String())
	if strings.Trim(result, "_") == "" {
		return "file"
	}
	if len(result) > maxFilenameLength {
		result = truncatePreservingExtension(result)
	}
	return result
}

func truncatePreservingExtension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || len(ext) >= maxFilenameLength {
		return truncateToBytes(name, maxFilenameLength)
	}
	base := name[:len(name)-len(ext)]
	return truncateToBytes(base, maxFilenameLength-len(ext)) + ext
}

// truncateToBytes cuts s to at most maxBytes without splitting a rune
func truncateToBytes(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

// ContentDisposition returns an attachment header value for name
func ContentDisposition(name string) string {
	return fmt.Sprintf("attachment; filename=%q", SanitizeFilename(name))
}
