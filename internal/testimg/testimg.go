// Package testimg builds tiny deterministic image fixtures for tests:
// TIFF and JPEG payloads with (or without) an embedded GPS directory.
package testimg

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
)

const (
	tagGPSInfo = 0x8825
	typeASCII  = 2
	typeLong   = 4
	typeRat    = 5
)

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	value [4]byte
}

func writeIFD(buf *bytes.Buffer, entries []entry) {
	binary.Write(buf, binary.LittleEndian, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(buf, binary.LittleEndian, e.tag)
		binary.Write(buf, binary.LittleEndian, e.typ)
		binary.Write(buf, binary.LittleEndian, e.count)
		buf.Write(e.value[:])
	}
	binary.Write(buf, binary.LittleEndian, uint32(0)) // no next IFD
}

func offsetValue(off uint32) [4]byte {
	var v [4]byte
	binary.LittleEndian.PutUint32(v[:], off)
	return v
}

func asciiValue(s string) [4]byte {
	var v [4]byte
	copy(v[:], s)
	return v
}

// GPSTIFF returns a minimal little-endian TIFF whose IFD0 points at a
// GPS sub-IFD holding the given degree/minute/second coordinates.
// It carries metadata only; there is no pixel data to decode.
func GPSTIFF(latRef string, lat [3]uint32, lngRef string, lng [3]uint32) []byte {
	const (
		ifd0Off    = 8
		gpsOff     = ifd0Off + 2 + 1*12 + 4 // 26
		latDataOff = gpsOff + 2 + 4*12 + 4  // 80
		lngDataOff = latDataOff + 3*8       // 104
	)

	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(42))
	binary.Write(&buf, binary.LittleEndian, uint32(ifd0Off))

	writeIFD(&buf, []entry{
		{tag: tagGPSInfo, typ: typeLong, count: 1, value: offsetValue(gpsOff)},
	})

	writeIFD(&buf, []entry{
		{tag: 1, typ: typeASCII, count: 2, value: asciiValue(latRef)},
		{tag: 2, typ: typeRat, count: 3, value: offsetValue(latDataOff)},
		{tag: 3, typ: typeASCII, count: 2, value: asciiValue(lngRef)},
		{tag: 4, typ: typeRat, count: 3, value: offsetValue(lngDataOff)},
	})

	for _, v := range lat {
		binary.Write(&buf, binary.LittleEndian, v)
		binary.Write(&buf, binary.LittleEndian, uint32(1))
	}
	for _, v := range lng {
		binary.Write(&buf, binary.LittleEndian, v)
		binary.Write(&buf, binary.LittleEndian, uint32(1))
	}

	return buf.Bytes()
}

// NoGPSTIFF returns a valid TIFF metadata block with no GPS directory.
func NoGPSTIFF() []byte {
	var buf bytes.Buffer
	buf.WriteString("II")
	binary.Write(&buf, binary.LittleEndian, uint16(42))
	binary.Write(&buf, binary.LittleEndian, uint32(8))
	writeIFD(&buf, []entry{
		{tag: 0x010F, typ: typeASCII, count: 4, value: [4]byte{'a', 'c', 'm', 0}}, // Make
	})
	return buf.Bytes()
}

// GPSJPEG returns a decodable 1x1 JPEG with the GPSTIFF payload spliced
// in as an Exif APP1 segment right after the SOI marker.
func GPSJPEG(latRef string, lat [3]uint32, lngRef string, lng [3]uint32) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 128, G: 64, B: 32, A: 255})

	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, img, nil); err != nil {
		panic(err) // cannot fail on an in-memory 1x1 image
	}

	payload := append([]byte("Exif\x00\x00"), GPSTIFF(latRef, lat, lngRef, lng)...)

	var out bytes.Buffer
	out.Write(jpg.Bytes()[:2]) // SOI
	out.Write([]byte{0xFF, 0xE1})
	binary.Write(&out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(jpg.Bytes()[2:])
	return out.Bytes()
}

// PNG returns a small valid PNG; PNG carries no EXIF block.
func PNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{G: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
