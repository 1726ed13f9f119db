package fwdl

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

const (
	// NumSegments is the number of memory segments in an image.
	NumSegments = 3
	// HeaderSize is the size of the image header preceding the length fields.
	HeaderSize = 16
	// MaxImageSize is the largest image accepted.
	MaxImageSize = 1 << 20

	lenFieldSize = 8
	// ImageMagic starts every firmware image.
	ImageMagic = "ECRF"
)

// Segment load addresses, in image order.
const (
	AddrILM   = 0x20000
	AddrDLM   = 0x40000
	AddrIRAM0 = 0x500a0
)

var segmentInfo = [NumSegments]struct {
	name string
	addr uint32
}{
	{"ilm", AddrILM},
	{"dlm", AddrDLM},
	{"iram0", AddrIRAM0},
}

// Segment is a contiguous block of firmware loaded at Addr.
type Segment struct {
	Name string
	Addr uint32
	Data []byte
}

// Image is a parsed firmware image.
//
// Layout:
//
//	| magic "ECRF" | version u32 LE | reserved 8 | len0 | len1 | len2 | seg0 | seg1 | seg2 |
//
// where each len is 8 ASCII decimal digits.
type Image struct {
	Version  uint32
	Segments [NumSegments]Segment
}

// TotalSize returns the sum of the segment sizes.
func (img *Image) TotalSize() int {
	n := 0
	for _, s := range img.Segments {
		n += len(s.Data)
	}
	return n
}

// EntryPoint returns the address execution jumps to after download.
func (img *Image) EntryPoint() uint32 { return img.Segments[0].Addr }

// ParseImage validates b and splits it into segments. The returned image
// references b.
func ParseImage(b []byte) (*Image, error) {
	if len(b) > MaxImageSize {
		return nil, errTooLarge
	}
	const lensEnd = HeaderSize + NumSegments*lenFieldSize
	if len(b) < lensEnd {
		return nil, errTruncated
	}
	if string(b[:4]) != ImageMagic {
		return nil, errBadMagic
	}
	img := &Image{Version: binary.LittleEndian.Uint32(b[4:8])}
	off := lensEnd
	for i := range img.Segments {
		field := b[HeaderSize+i*lenFieldSize : HeaderSize+(i+1)*lenFieldSize]
		n, err := parseLenField(field)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		if n > len(b)-off {
			return nil, fmt.Errorf("segment %d of %d bytes at offset %d: %w", i, n, off, errTruncated)
		}
		img.Segments[i] = Segment{
			Name: segmentInfo[i].name,
			Addr: segmentInfo[i].addr,
			Data: b[off : off+n : off+n],
		}
		off += n
	}
	if img.TotalSize() == 0 {
		return nil, errEmptyImage
	}
	return img, nil
}

func parseLenField(field []byte) (int, error) {
	s := strings.TrimSpace(strings.TrimRight(string(field), "\x00"))
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errjoin(errBadLenField, err)
	}
	return int(n), nil
}

// AppendImage appends an image built from the given segment payloads to dst.
func AppendImage(dst []byte, version uint32, segs [NumSegments][]byte) []byte {
	var hdr [HeaderSize]byte
	copy(hdr[:], ImageMagic)
	binary.LittleEndian.PutUint32(hdr[4:], version)
	dst = append(dst, hdr[:]...)
	for _, s := range segs {
		dst = fmt.Appendf(dst, "%08d", len(s))
	}
	for _, s := range segs {
		dst = append(dst, s...)
	}
	return dst
}
