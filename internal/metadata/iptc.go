package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// JPEG markers and Photoshop resource identifiers used to locate IPTC-IIM
// data inside an APP13 segment.
const (
	markerSOI   = 0xD8
	markerEOI   = 0xD9
	markerSOS   = 0xDA
	markerAPP13 = 0xED

	iptcResourceID = 0x0404
	iimTagMarker   = 0x1C
)

var (
	photoshopHeader = []byte("Photoshop 3.0\x00")
	resourceSig     = []byte("8BIM")

	errNotJPEG = errors.New("not a JPEG stream")
)

// iptcDataset addresses one IIM dataset as record:dataset, e.g. 2:120.
type iptcDataset struct {
	Record  byte
	Dataset byte
}

func (d iptcDataset) String() string {
	return fmt.Sprintf("%d:%d", d.Record, d.Dataset)
}

// readIPTC scans a JPEG stream for APP13 Photoshop blocks and returns every
// IIM dataset found. Repeated datasets (keywords, for one) keep their
// order. A JPEG without IPTC yields an empty map and no error.
func readIPTC(r io.Reader) (map[iptcDataset][]string, error) {
	out := make(map[iptcDataset][]string)

	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read SOI: %w", err)
	}
	if hdr[0] != 0xFF || hdr[1] != markerSOI {
		return nil, errNotJPEG
	}

	for {
		marker, err := nextMarker(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return out, nil
			}
			return nil, err
		}
		if marker == markerSOS || marker == markerEOI {
			return out, nil
		}
		// Standalone markers carry no length.
		if marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7) {
			continue
		}

		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return out, nil
		}
		segLen := int(binary.BigEndian.Uint16(lenBuf[:])) - 2
		if segLen < 0 {
			return nil, fmt.Errorf("invalid segment length for marker 0x%02X", marker)
		}

		if marker != markerAPP13 {
			if _, err := io.CopyN(io.Discard, r, int64(segLen)); err != nil {
				return out, nil
			}
			continue
		}

		seg := make([]byte, segLen)
		if _, err := io.ReadFull(r, seg); err != nil {
			return nil, fmt.Errorf("read APP13: %w", err)
		}
		if !bytes.HasPrefix(seg, photoshopHeader) {
			continue
		}
		if err := parsePhotoshopResources(seg[len(photoshopHeader):], out); err != nil {
			return nil, err
		}
	}
}

// nextMarker skips fill bytes and returns the next marker code.
func nextMarker(r io.Reader) (byte, error) {
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		if b[0] != 0xFF {
			return 0, fmt.Errorf("expected marker, found 0x%02X", b[0])
		}
		for b[0] == 0xFF {
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return 0, err
			}
		}
		if b[0] != 0x00 {
			return b[0], nil
		}
	}
}

// parsePhotoshopResources walks 8BIM image resource blocks and decodes the
// IPTC-NAA one.
func parsePhotoshopResources(data []byte, out map[iptcDataset][]string) error {
	for len(data) >= 12 {
		if !bytes.Equal(data[:4], resourceSig) {
			return nil
		}
		id := binary.BigEndian.Uint16(data[4:6])
		data = data[6:]

		// Pascal-string name, padded so length byte + name is even.
		nameLen := int(data[0])
		skip := 1 + nameLen
		if skip%2 != 0 {
			skip++
		}
		if len(data) < skip+4 {
			return errors.New("truncated Photoshop resource name")
		}
		data = data[skip:]

		size := int(binary.BigEndian.Uint32(data[:4]))
		data = data[4:]
		if size < 0 || size > len(data) {
			return errors.New("truncated Photoshop resource")
		}
		block := data[:size]
		if size%2 != 0 && size < len(data) {
			size++
		}
		data = data[size:]

		if id == iptcResourceID {
			parseIIM(block, out)
		}
	}
	return nil
}

// parseIIM decodes a run of IIM datasets. Extended-length datasets are
// skipped since none of the text fields we read use them.
func parseIIM(data []byte, out map[iptcDataset][]string) {
	for len(data) >= 5 && data[0] == iimTagMarker {
		ds := iptcDataset{Record: data[1], Dataset: data[2]}
		n := int(binary.BigEndian.Uint16(data[3:5]))
		data = data[5:]

		if n&0x8000 != 0 {
			lenBytes := n & 0x7FFF
			if lenBytes > 4 || len(data) < lenBytes {
				return
			}
			var ext int
			for _, b := range data[:lenBytes] {
				ext = ext<<8 | int(b)
			}
			data = data[lenBytes:]
			if ext > len(data) {
				return
			}
			data = data[ext:]
			continue
		}

		if n > len(data) {
			return
		}
		value := strings.TrimRight(toUTF8(data[:n]), "\x00")
		out[ds] = append(out[ds], value)
		data = data[n:]
	}
}
