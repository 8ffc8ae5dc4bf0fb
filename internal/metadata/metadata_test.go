package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"strings"
	"testing"
)

func join(values ...string) string {
	return strings.Join(values, Separator)
}

func TestEscape(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Nikon D850", "Nikon%20D850"},
		{"a+b-c_d.e/f@g*h", "a+b-c_d.e/f@g*h"},
		{"Zoë", "Zo%EB"},
		{"東京", "%u6771%u4EAC"},
		{"50%", "50%25"},
		{"&#39;", "%26%2339%3B"},
		{"😀", "%uD83D%uDE00"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := escape(tt.in); got != tt.want {
				t.Errorf("escape(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToUTF8Latin1(t *testing.T) {
	if got := toUTF8([]byte{'Z', 'o', 0xEB}); got != "Zoë" {
		t.Errorf("toUTF8(latin1) = %q, want %q", got, "Zoë")
	}
	if got := toUTF8([]byte("Zoë")); got != "Zoë" {
		t.Errorf("toUTF8(utf8) = %q, want %q", got, "Zoë")
	}
}

func TestParseTagsFull(t *testing.T) {
	raw := join(
		"Jane Doe",
		"Canon EOS R5",
		"400",
		"2019:07:14 18:22:01",
		"Summer Trip",
		"Bob's boat",
		"France",
		"Nice",
		"Bob;Alice",
	)

	got := ParseTags(raw)
	want := Record{
		Artist:    "Jane%20Doe",
		Camera:    "Canon%20EOS%20R5",
		ISORating: "400",
		Year:      "2019",
		Album:     "Summer%20Trip",
		Title:     "Bob%26%2339%3Bs%20boat",
		Country:   "France",
		City:      "Nice",
		People:    "Bob%3BAlice",
	}
	if got != want {
		t.Errorf("ParseTags() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestParseTagsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Record
	}{
		{
			name: "Empty string",
			raw:  "",
			want: EmptyRecord(),
		},
		{
			name: "Fewer than nine segments",
			raw:  join("Jane", "X100V"),
			want: Record{
				Artist: "Jane", Camera: "X100V",
				ISORating: Null, Year: Null, Album: Null, Title: Null,
				Country: Null, City: Null, People: Null,
			},
		},
		{
			name: "Empty middle segments",
			raw:  join("", "", "200", "", "", "", "Japan", "", ""),
			want: Record{
				Artist: Null, Camera: Null, ISORating: "200", Year: Null,
				Album: Null, Title: Null, Country: "Japan", City: Null, People: Null,
			},
		},
		{
			name: "Extra segments ignored",
			raw:  join("a", "b", "c", "2001", "e", "f", "g", "h", "i", "overflow"),
			want: Record{
				Artist: "a", Camera: "b", ISORating: "c", Year: "2001",
				Album: "e", Title: "f", Country: "g", City: "h", People: "i",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseTags(tt.raw); got != tt.want {
				t.Errorf("ParseTags() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEmptyRecordIsAllNull(t *testing.T) {
	for k, v := range EmptyRecord().Fields() {
		if v != Null {
			t.Errorf("field %s = %q, want %q", k, v, Null)
		}
	}
	if n := len(EmptyRecord().Fields()); n != FieldCount {
		t.Errorf("Fields() has %d entries, want %d", n, FieldCount)
	}
}

type fakeReader struct {
	raw  string
	err  error
	tags []TagPath
}

func (f *fakeReader) ReadTags(r io.ReadSeeker, tags []TagPath) (string, error) {
	f.tags = tags
	return f.raw, f.err
}

func TestExtractorPassesDefaultTags(t *testing.T) {
	fr := &fakeReader{raw: join("Jane")}
	rec, err := NewExtractor(fr).Extract([]byte("data"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if rec.Artist != "Jane" {
		t.Errorf("Artist = %q, want Jane", rec.Artist)
	}
	if len(fr.tags) != FieldCount {
		t.Fatalf("reader got %d tags, want %d", len(fr.tags), FieldCount)
	}
	for i, tag := range DefaultTags {
		if fr.tags[i] != tag {
			t.Errorf("tag[%d] = %s, want %s", i, fr.tags[i], tag)
		}
	}
}

func TestExtractorDegradesOnReadError(t *testing.T) {
	readErr := errors.New("boom")
	rec, err := NewExtractor(&fakeReader{err: readErr}).Extract(nil)
	if !errors.Is(err, readErr) {
		t.Errorf("Extract() error = %v, want %v", err, readErr)
	}
	if rec != EmptyRecord() {
		t.Errorf("Extract() = %+v, want all-null record", rec)
	}
}

// --- IPTC fixtures ---

func iimDataset(record, dataset byte, value string) []byte {
	b := []byte{iimTagMarker, record, dataset, 0, 0}
	binary.BigEndian.PutUint16(b[3:], uint16(len(value)))
	return append(b, value...)
}

func app13(iim []byte) []byte {
	var res bytes.Buffer
	res.Write(photoshopHeader)
	res.Write(resourceSig)
	binary.Write(&res, binary.BigEndian, uint16(iptcResourceID))
	res.Write([]byte{0, 0}) // empty name, padded
	binary.Write(&res, binary.BigEndian, uint32(len(iim)))
	res.Write(iim)
	if len(iim)%2 != 0 {
		res.WriteByte(0)
	}

	seg := []byte{0xFF, markerAPP13, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(res.Len()+2))
	return append(seg, res.Bytes()...)
}

func jpegWithIPTC(t *testing.T, iim []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	plain := buf.Bytes()
	out := append([]byte{}, plain[:2]...)
	out = append(out, app13(iim)...)
	return append(out, plain[2:]...)
}

func TestReadIPTC(t *testing.T) {
	var iim []byte
	iim = append(iim, iimDataset(2, 120, "Summer Trip")...)
	iim = append(iim, iimDataset(2, 5, "Sunset")...)
	iim = append(iim, iimDataset(2, 25, "Bob")...)
	iim = append(iim, iimDataset(2, 25, "Alice")...)
	iim = append(iim, iimDataset(2, 90, "Nice")...)

	got, err := readIPTC(bytes.NewReader(jpegWithIPTC(t, iim)))
	if err != nil {
		t.Fatalf("readIPTC() error = %v", err)
	}

	checks := map[iptcDataset][]string{
		{2, 120}: {"Summer Trip"},
		{2, 5}:   {"Sunset"},
		{2, 25}:  {"Bob", "Alice"},
		{2, 90}:  {"Nice"},
	}
	for ds, want := range checks {
		if strings.Join(got[ds], "|") != strings.Join(want, "|") {
			t.Errorf("dataset %s = %v, want %v", ds, got[ds], want)
		}
	}
	if _, ok := got[iptcDataset{2, 101}]; ok {
		t.Errorf("dataset 2:101 should be absent")
	}
}

func TestReadIPTCNoBlock(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4)), nil); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	got, err := readIPTC(&buf)
	if err != nil {
		t.Fatalf("readIPTC() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("readIPTC() = %v, want empty", got)
	}
}

func TestReadIPTCNotJPEG(t *testing.T) {
	_, err := readIPTC(strings.NewReader("\x89PNG\r\n"))
	if !errors.Is(err, errNotJPEG) {
		t.Errorf("readIPTC(png) error = %v, want errNotJPEG", err)
	}
}

func TestImageTagReaderIPTCFields(t *testing.T) {
	var iim []byte
	iim = append(iim, iimDataset(2, 120, "Album")...)
	iim = append(iim, iimDataset(2, 5, "It's here")...)
	iim = append(iim, iimDataset(2, 101, "Japan")...)
	iim = append(iim, iimDataset(2, 90, "Kyoto")...)
	iim = append(iim, iimDataset(2, 25, "Ken")...)

	// The fixture has no EXIF block; whether imagemeta reports that as an
	// error or not, the IPTC positions must still be filled.
	raw, _ := ImageTagReader{}.ReadTags(bytes.NewReader(jpegWithIPTC(t, iim)), DefaultTags)
	parts := strings.Split(raw, Separator)
	if len(parts) != FieldCount {
		t.Fatalf("got %d positions, want %d: %q", len(parts), FieldCount, raw)
	}

	rec := ParseTags(raw)
	if rec.Album != "Album" || rec.Country != "Japan" || rec.City != "Kyoto" || rec.People != "Ken" {
		t.Errorf("IPTC fields = %+v", rec)
	}
	if rec.Title != "It%26%2339%3Bs%20here" {
		t.Errorf("Title = %q", rec.Title)
	}
	if rec.Artist != Null || rec.Year != Null {
		t.Errorf("EXIF fields should be null without EXIF, got %+v", rec)
	}
}

func TestLookupUnknownTag(t *testing.T) {
	if _, err := lookup("XMP:dc:title", exifFields{}, nil); err == nil {
		t.Error("lookup(XMP) should fail")
	}
	if _, err := lookup("IPTC:2:x", exifFields{}, nil); err == nil {
		t.Error("lookup(IPTC:2:x) should fail")
	}
}

// --- EXIF fixtures ---

type tiffEntry struct {
	tag   uint16
	typ   uint16 // 2 ASCII, 3 SHORT, 4 LONG
	count uint32
	value []byte // inline when len <= 4, otherwise placed in the data area
}

func asciiEntry(tag uint16, s string) tiffEntry {
	v := append([]byte(s), 0)
	return tiffEntry{tag: tag, typ: 2, count: uint32(len(v)), value: v}
}

func shortEntry(tag, v uint16) tiffEntry {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b, v)
	return tiffEntry{tag: tag, typ: 3, count: 1, value: b}
}

// exifTIFF lays out a little-endian TIFF with IFD0 followed by an Exif
// sub-IFD and a shared data area for values longer than four bytes.
func exifTIFF(ifd0, exif []tiffEntry) []byte {
	const exifPointerTag = 0x8769
	ifdSize := func(n int) int { return 2 + 12*n + 4 }

	ifd0Off := 8
	exifOff := ifd0Off + ifdSize(len(ifd0)+1)
	dataOff := exifOff + ifdSize(len(exif))

	var data []byte
	le := binary.LittleEndian
	writeIFD := func(entries []tiffEntry) []byte {
		b := make([]byte, 2, ifdSize(len(entries)))
		le.PutUint16(b, uint16(len(entries)))
		for _, e := range entries {
			ent := make([]byte, 12)
			le.PutUint16(ent[0:], e.tag)
			le.PutUint16(ent[2:], e.typ)
			le.PutUint32(ent[4:], e.count)
			if len(e.value) <= 4 {
				copy(ent[8:], e.value)
			} else {
				le.PutUint32(ent[8:], uint32(dataOff+len(data)))
				data = append(data, e.value...)
			}
			b = append(b, ent...)
		}
		return append(b, 0, 0, 0, 0)
	}

	ptr := make([]byte, 4)
	le.PutUint32(ptr, uint32(exifOff))
	ifd0 = append(ifd0, tiffEntry{tag: exifPointerTag, typ: 4, count: 1, value: ptr})

	out := []byte{'I', 'I', 42, 0, 8, 0, 0, 0}
	out = append(out, writeIFD(ifd0)...)
	out = append(out, writeIFD(exif)...)
	return append(out, data...)
}

func jpegWithEXIF(t *testing.T, tiff []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), nil); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	seg := []byte{0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))

	plain := buf.Bytes()
	out := append([]byte{}, plain[:2]...)
	out = append(out, seg...)
	out = append(out, payload...)
	return append(out, plain[2:]...)
}

func TestImageTagReaderEXIFFields(t *testing.T) {
	tiff := exifTIFF(
		[]tiffEntry{
			asciiEntry(0x0110, "X100V"),      // Model
			asciiEntry(0x013B, "Ann O'Neil"), // Artist
		},
		[]tiffEntry{
			shortEntry(0x8827, 400),                   // ISOSpeedRatings
			asciiEntry(0x9003, "2019:05:01 10:11:12"), // DateTimeOriginal
		},
	)

	rec, err := NewExtractor(nil).Extract(jpegWithEXIF(t, tiff))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	want := Record{
		Artist:    "Ann%20O%27Neil",
		Camera:    "X100V",
		ISORating: "400",
		Year:      "2019",
		Album:     Null,
		Title:     Null,
		Country:   Null,
		City:      Null,
		People:    Null,
	}
	if rec != want {
		t.Errorf("record = %+v\nwant %+v", rec, want)
	}
}

func TestReadIPTCEncodingAndExtendedDatasets(t *testing.T) {
	// An extended-length dataset (2:202, 4-byte length) sits between two
	// text datasets and must be skipped without losing either.
	ext := []byte{iimTagMarker, 2, 202, 0x80, 0x04, 0, 0, 0, 3, 'x', 'y', 'z'}

	var iim []byte
	iim = append(iim, iimDataset(2, 90, "Z\xfcrich")...) // Latin-1 ü
	iim = append(iim, ext...)
	iim = append(iim, iimDataset(2, 101, "Schweiz")...)
	iim = append(iim, 0, 0, 0) // trailing padding

	got, err := readIPTC(bytes.NewReader(jpegWithIPTC(t, iim)))
	if err != nil {
		t.Fatalf("readIPTC() error = %v", err)
	}
	if v := got[iptcDataset{2, 90}]; len(v) != 1 || v[0] != "Zürich" {
		t.Errorf("city = %q, want Zürich", v)
	}
	if v := got[iptcDataset{2, 101}]; len(v) != 1 || v[0] != "Schweiz" {
		t.Errorf("country = %q, want Schweiz", v)
	}
	if _, ok := got[iptcDataset{2, 202}]; ok {
		t.Error("extended-length dataset should be skipped")
	}
}
