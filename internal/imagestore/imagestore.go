// Package imagestore persists uploaded sighting photos on the local
// filesystem. Images are normalized to a fixed-size thumbnail before
// writing, and retrievable later at /ImageUploads/<fileName>.
package imagestore

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

const thumbSize = 200

// ErrUndecodable marks upload bytes that cannot be decoded as pixel
// data. The metadata block may have parsed fine; this is still the
// client's corrupt file, not a storage failure.
var ErrUndecodable = errors.New("imagestore: undecodable image data")

// Store writes and reaps image files under a single directory.
type Store struct {
	dir string
}

// New creates the upload directory if needed and returns a Store for it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "imagestore: create dir %s", dir)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory images are stored in.
func (s *Store) Dir() string {
	return s.dir
}

// Save decodes the image, scales it to the thumbnail size, and writes
// it under the store directory using the given generated file name.
func (s *Store) Save(fileName string, data []byte) error {
	if fileName == "" || fileName != filepath.Base(fileName) {
		return eris.Errorf("imagestore: invalid file name %q", fileName)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return eris.Wrapf(ErrUndecodable, "decode %s: %v", fileName, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, thumbSize, thumbSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".png":
		err = png.Encode(&buf, dst)
	case ".gif":
		err = gif.Encode(&buf, dst, nil)
	case ".tif", ".tiff":
		err = tiff.Encode(&buf, dst, nil)
	case ".bmp":
		err = bmp.Encode(&buf, dst)
	default:
		err = jpeg.Encode(&buf, dst, nil)
	}
	if err != nil {
		return eris.Wrapf(err, "imagestore: encode %s", fileName)
	}

	path := filepath.Join(s.dir, fileName)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return eris.Wrapf(err, "imagestore: write %s", fileName)
	}
	return nil
}

// Reap deletes stored images older than olderThan whose file name is
// not in the referenced set. An upload with no follow-up Add call
// leaves an orphaned file; this is the sweep that collects them.
func (s *Store) Reap(ctx context.Context, olderThan time.Duration, referenced map[string]bool) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, eris.Wrapf(err, "imagestore: read dir %s", s.dir)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if entry.IsDir() || referenced[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			zap.L().Warn("failed to remove orphaned image",
				zap.String("file", entry.Name()),
				zap.Error(err),
			)
			continue
		}
		removed++
	}

	if removed > 0 {
		zap.L().Info("reaped orphaned images",
			zap.Int("removed", removed),
			zap.String("dir", s.dir),
		)
	}
	return removed, nil
}
