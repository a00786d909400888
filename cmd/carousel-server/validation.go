package main

import (
	"fmt"
	"regexp"
	"strings"
)

// safeFilenameRegex allows alphanumeric, dots, hyphens, underscores, spaces, and parentheses.
var safeFilenameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._ ()-]{0,254}$`)

// accountIDRegex keeps account identifiers to a shell- and log-safe alphabet.
var accountIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

func validateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("filename is required")
	}
	if strings.Contains(name, "..") || strings.Contains(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("filename contains invalid characters")
	}
	if !safeFilenameRegex.MatchString(name) {
		return fmt.Errorf("filename contains invalid characters; only alphanumeric, dots, hyphens, underscores, spaces, and parentheses allowed")
	}
	return nil
}

func validateAccountID(id string) error {
	if id == "" {
		return fmt.Errorf("accountId is required")
	}
	if !accountIDRegex.MatchString(id) {
		return fmt.Errorf("invalid accountId: lowercase alphanumeric, dots, hyphens, and underscores only")
	}
	return nil
}

// allowedContentTypes is the content-type allowlist for carousel images.
var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

func validateContentType(ct string) error {
	// Strip any parameters (e.g. "image/jpeg; charset=binary").
	base := strings.TrimSpace(strings.Split(ct, ";")[0])
	if !allowedContentTypes[strings.ToLower(base)] {
		return fmt.Errorf("unsupported content type %q: only JPEG, PNG, and WebP images are accepted", ct)
	}
	return nil
}
