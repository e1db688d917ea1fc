package imagemeta

import (
	"bytes"
	"errors"
	"image"
	"io"
	"path/filepath"
	"strconv"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/whatsin-app/whatsin/internal/model"

	// Registered so a failed EXIF decode can be classified: bytes that
	// still decode as an image are "no GPS data", not a parse failure.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// ErrNoGPSData indicates a well-formed image that carries no GPS
// directory. Distinct from ParseError: the file itself is fine.
var ErrNoGPSData = errors.New("imagemeta: no gps data")

// ParseError wraps a decode failure on corrupt or unsupported image
// data. The wrapped message is safe to surface to the client.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "imagemeta: parse image: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Extractor decodes GPS coordinates from uploaded image metadata and
// assigns each asset a collision-resistant name. It does not validate
// the decoded coordinates and does not store any bytes; both are the
// caller's responsibility.
type Extractor struct {
	namer *Namer
}

// NewExtractor creates an Extractor with a fresh name sequence.
func NewExtractor() *Extractor {
	return &Extractor{namer: &Namer{}}
}

// Extract parses the image's embedded metadata directories and decodes
// the GPS directory into decimal-degree coordinates. The returned
// FileName is the generated asset name with the original file's
// extension appended. Returns ErrNoGPSData when the image is valid but
// has no GPS directory, or a *ParseError when the bytes are not a
// readable image.
func (e *Extractor) Extract(r io.Reader, originalFileName string) (*model.GeoResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		// No EXIF block at all. If the bytes still decode as an image
		// the upload is merely missing GPS data.
		if _, _, cfgErr := image.DecodeConfig(bytes.NewReader(data)); cfgErr == nil {
			return nil, ErrNoGPSData
		}
		return nil, &ParseError{Err: err}
	}

	lat, lng, err := x.LatLong()
	if err != nil {
		return nil, ErrNoGPSData
	}

	name := strconv.FormatInt(e.namer.Next(), 10) + filepath.Ext(originalFileName)
	return &model.GeoResult{
		FileName:  name,
		Latitude:  lat,
		Longitude: lng,
	}, nil
}
