// Package filehandler receives image assets for the carousel service: it
// stages base64 payloads into temporary files, resolves MIME types, cleans
// up local files once the orchestrator is done with them, and extracts an
// EXIF summary for log lines.
package filehandler

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// UploadedFile describes one staged local asset handed to the orchestrator.
type UploadedFile struct {
	Path     string
	Filename string
	MimeType string
	Size     int64
}

// SupportedImageExtensions defines the file extensions accepted for carousel
// images.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// MIMEFromExtension resolves a filename's extension against the supported
// image types.
func MIMEFromExtension(name string) (string, bool) {
	mime, ok := SupportedImageExtensions[strings.ToLower(filepath.Ext(name))]
	return mime, ok
}

// SniffMIME detects the image type from the first bytes of the payload.
// Recognizes JPEG, PNG, and WebP magic numbers; anything else defaults to
// image/jpeg.
func SniffMIME(b []byte) string {
	switch {
	case len(b) >= 3 && bytes.Equal(b[:3], []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case len(b) >= 8 && bytes.Equal(b[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case len(b) >= 12 && bytes.Equal(b[:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP")):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// extensionForMIME maps a detected MIME type back to a temp-file extension.
func extensionForMIME(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// Cleanup removes the given local files, ignoring ones already gone. It is
// called on every exit path (success, failure, panic recovery), so it must
// tolerate repeated invocation for the same paths.
func Cleanup(paths []string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", p).Msg("Failed to remove temporary file")
		}
	}
}
