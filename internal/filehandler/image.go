package filehandler

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// ImageSummary is the EXIF subset worth a log line when an asset enters the
// upload pipeline. Extraction is best-effort: base64-sourced images often
// carry no metadata at all.
type ImageSummary struct {
	HasGPS    bool
	Latitude  float64
	Longitude float64

	HasDate   bool
	DateTaken time.Time

	CameraMake  string
	CameraModel string
}

// ExtractImageSummary reads EXIF metadata from an image file using the
// imagemeta library. The library reads only the metadata bytes, not the
// whole image.
func ExtractImageSummary(path string) (*ImageSummary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	exifData, err := imagemeta.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF metadata: %w", err)
	}

	summary := &ImageSummary{}

	gps := exifData.GPS
	if gps.Latitude() != 0 || gps.Longitude() != 0 {
		summary.Latitude = gps.Latitude()
		summary.Longitude = gps.Longitude()
		summary.HasGPS = true
	}

	// Priority: DateTimeOriginal > CreateDate > ModifyDate
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		summary.DateTaken = exifData.DateTimeOriginal()
		summary.HasDate = true
	case !exifData.CreateDate().IsZero():
		summary.DateTaken = exifData.CreateDate()
		summary.HasDate = true
	case !exifData.ModifyDate().IsZero():
		summary.DateTaken = exifData.ModifyDate()
		summary.HasDate = true
	}

	summary.CameraMake = strings.TrimSpace(exifData.Make)
	summary.CameraModel = strings.TrimSpace(exifData.Model)

	log.Debug().
		Str("path", path).
		Bool("has_gps", summary.HasGPS).
		Bool("has_date", summary.HasDate).
		Msg("Image metadata extraction complete")

	return summary, nil
}
