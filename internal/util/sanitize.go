package util

import (
	"regexp"
	"strings"
)

var (
	unsafeFileNameChars = regexp.MustCompile(`[^a-zA-Z0-9.]`)
	unsafeFolderChars   = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

// ContainsSuspicious reports markup or template fragments in free text.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, c := range []string{"<", ">", "{{", "}}", "javascript:", "onerror", "onload"} {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// SanitizeFileName replaces everything except ASCII letters, digits and dots
// with underscores so the name is safe to use inside an object key.
func SanitizeFileName(name string) string {
	return unsafeFileNameChars.ReplaceAllString(name, "_")
}

// SanitizeFolder keeps an object-storage folder to safe path segments.
func SanitizeFolder(folder string) string {
	var segments []string
	for _, seg := range strings.Split(folder, "/") {
		seg = strings.TrimSpace(seg)
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		seg = strings.Trim(unsafeFolderChars.ReplaceAllString(seg, "_"), ".")
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return strings.Join(segments, "/")
}
