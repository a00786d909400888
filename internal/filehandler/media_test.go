package filehandler

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 13}
	webpMagic = []byte{'R', 'I', 'F', 'F', 0x10, 0, 0, 0, 'W', 'E', 'B', 'P', 'V', 'P', '8', ' '}
)

func TestSniffMIME(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", jpegMagic, "image/jpeg"},
		{"png", pngMagic, "image/png"},
		{"webp", webpMagic, "image/webp"},
		{"unknown defaults to jpeg", []byte("plain text"), "image/jpeg"},
		{"short input", []byte{0xFF}, "image/jpeg"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SniffMIME(tc.data); got != tc.want {
				t.Errorf("SniffMIME(%s) = %s, want %s", tc.name, got, tc.want)
			}
		})
	}
}

func TestMIMEFromExtension(t *testing.T) {
	if mime, ok := MIMEFromExtension("Photo.JPG"); !ok || mime != "image/jpeg" {
		t.Errorf("expected image/jpeg for .JPG, got %s (%v)", mime, ok)
	}
	if _, ok := MIMEFromExtension("movie.mp4"); ok {
		t.Error("expected .mp4 to be unsupported")
	}
}

func TestDecodeBase64ImageWithDataURI(t *testing.T) {
	encoded := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngMagic)

	f, err := DecodeBase64Image(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.Remove(f.Path)

	if f.MimeType != "image/png" {
		t.Errorf("expected image/png from data URI, got %s", f.MimeType)
	}
	if f.Size != int64(len(pngMagic)) {
		t.Errorf("unexpected size: %d", f.Size)
	}
	if filepath.Ext(f.Path) != ".png" {
		t.Errorf("expected .png temp file, got %s", f.Path)
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		t.Fatalf("temp file not readable: %v", err)
	}
	if string(data) != string(pngMagic) {
		t.Error("temp file content mismatch")
	}
}

func TestDecodeBase64ImageSniffsBareMIME(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(webpMagic)

	f, err := DecodeBase64Image(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer os.Remove(f.Path)

	if f.MimeType != "image/webp" {
		t.Errorf("expected sniffed image/webp, got %s", f.MimeType)
	}
}

func TestDecodeBase64ImageInvalid(t *testing.T) {
	if _, err := DecodeBase64Image("not!!valid!!base64"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := DecodeBase64Image(""); err == nil {
		t.Error("expected error for empty payload")
	}
}

func TestDecodeBase64ImagesCleansUpOnFailure(t *testing.T) {
	good := base64.StdEncoding.EncodeToString(jpegMagic)

	files, err := DecodeBase64Images([]string{good, "!!bad!!"})
	if err == nil {
		t.Fatal("expected error for bad second payload")
	}
	if files != nil {
		t.Error("expected no files returned on failure")
	}

	// The first payload was staged and must have been removed again.
	matches, _ := filepath.Glob(filepath.Join(os.TempDir(), "carousel-*.jpg"))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err == nil && string(data) == string(jpegMagic) {
			os.Remove(m)
			t.Errorf("staged file %s leaked after batch failure", m)
		}
	}
}

func TestCleanupToleratesMissingFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.jpg")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	Cleanup([]string{path, "", filepath.Join(t.TempDir(), "never-existed.jpg")})
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected file to be removed")
	}

	// Second pass over the same paths must not panic or error.
	Cleanup([]string{path})
}
