package filehandler

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// dataURIPrefix matches an explicit data-URI header like
// "data:image/png;base64,". When present it supplies the MIME type;
// otherwise the type is sniffed from the decoded bytes.
var dataURIPrefix = regexp.MustCompile(`^data:(image/[a-z0-9.+-]+);base64,`)

// DecodeBase64Image decodes one base64 payload (optionally carrying a
// data-URI prefix) into a temporary file. The caller owns the file and must
// remove it via Cleanup on every exit path.
func DecodeBase64Image(encoded string) (*UploadedFile, error) {
	mime := ""
	if m := dataURIPrefix.FindStringSubmatch(encoded); m != nil {
		mime = m[1]
		encoded = encoded[len(m[0]):]
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode base64 image: empty payload")
	}

	if mime == "" {
		mime = SniffMIME(raw)
	}

	name := "carousel-" + uuid.NewString() + extensionForMIME(mime)
	path := filepath.Join(os.TempDir(), name)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, fmt.Errorf("stage base64 image: %w", err)
	}

	log.Debug().Str("path", path).Str("mime", mime).Int("bytes", len(raw)).Msg("Base64 image staged")
	return &UploadedFile{
		Path:     path,
		Filename: name,
		MimeType: mime,
		Size:     int64(len(raw)),
	}, nil
}

// DecodeBase64Images stages a batch of base64 payloads. On any failure the
// files already staged are removed before the error is returned, so the
// caller never inherits partial state.
func DecodeBase64Images(encoded []string) ([]*UploadedFile, error) {
	files := make([]*UploadedFile, 0, len(encoded))
	for i, e := range encoded {
		f, err := DecodeBase64Image(e)
		if err != nil {
			paths := make([]string, len(files))
			for k, staged := range files {
				paths[k] = staged.Path
			}
			Cleanup(paths)
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		files = append(files, f)
	}
	return files, nil
}
