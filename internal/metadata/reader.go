package metadata

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// Separator joins the values of a batched tag read. It is a control
// character so that free-text values (titles, captions) cannot shift the
// positional fields.
const Separator = "\x1f"

// exifDateLayout is the EXIF DateTimeOriginal text layout.
const exifDateLayout = "2006:01:02 15:04:05"

// TagPath names one embedded tag, either "EXIF:<name>" or
// "IPTC:<record>:<dataset>".
type TagPath string

// The nine tags read for every photo, in catalog field order.
const (
	TagArtist   TagPath = "EXIF:Artist"
	TagModel    TagPath = "EXIF:Model"
	TagISO      TagPath = "EXIF:ISOSpeedRatings"
	TagDate     TagPath = "EXIF:DateTimeOriginal"
	TagCaption  TagPath = "IPTC:2:120"
	TagObject   TagPath = "IPTC:2:5"
	TagCountry  TagPath = "IPTC:2:101"
	TagCity     TagPath = "IPTC:2:90"
	TagKeywords TagPath = "IPTC:2:25"
)

// DefaultTags is the fixed, ordered tag list behind a Record.
var DefaultTags = []TagPath{
	TagArtist,
	TagModel,
	TagISO,
	TagDate,
	TagCaption,
	TagObject,
	TagCountry,
	TagCity,
	TagKeywords,
}

// TagReader reads a batch of tags from an image in one pass and returns
// their values joined by Separator, in the order requested. Tags that are
// absent produce empty positions. A non-nil error may accompany a partial
// result.
type TagReader interface {
	ReadTags(r io.ReadSeeker, tags []TagPath) (string, error)
}

// ImageTagReader reads EXIF tags with evanoberholster/imagemeta and IPTC
// datasets from the JPEG APP13 block.
type ImageTagReader struct{}

// Compile-time interface check.
var _ TagReader = ImageTagReader{}

// ReadTags implements TagReader.
func (ImageTagReader) ReadTags(r io.ReadSeeker, tags []TagPath) (string, error) {
	var errs []error

	exif, exifErr := readEXIF(r)
	if exifErr != nil {
		errs = append(errs, exifErr)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return strings.Repeat(Separator, len(tags)-1), fmt.Errorf("rewind for IPTC: %w", err)
	}
	iptc, iptcErr := readIPTC(r)
	if iptcErr != nil {
		errs = append(errs, fmt.Errorf("IPTC: %w", iptcErr))
	}

	values := make([]string, len(tags))
	for i, tag := range tags {
		v, err := lookup(tag, exif, iptc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		values[i] = strings.ReplaceAll(v, Separator, " ")
	}

	return strings.Join(values, Separator), errors.Join(errs...)
}

// exifFields is the subset of EXIF this package reads.
type exifFields struct {
	Artist           string
	Model            string
	ISO              string
	DateTimeOriginal string
}

func readEXIF(r io.ReadSeeker) (exifFields, error) {
	e, err := imagemeta.Decode(r)
	if err != nil {
		return exifFields{}, fmt.Errorf("EXIF: %w", err)
	}

	f := exifFields{
		Artist: strings.TrimSpace(e.Artist),
		Model:  strings.TrimSpace(e.Model),
	}
	if e.ISOSpeed > 0 {
		f.ISO = strconv.FormatUint(uint64(e.ISOSpeed), 10)
	}
	if t := e.DateTimeOriginal(); !t.IsZero() {
		f.DateTimeOriginal = t.Format(exifDateLayout)
	}

	log.Debug().
		Str("artist", f.Artist).
		Str("model", f.Model).
		Str("iso", f.ISO).
		Str("dateTimeOriginal", f.DateTimeOriginal).
		Msg("EXIF tags decoded")

	return f, nil
}

func lookup(tag TagPath, exif exifFields, iptc map[iptcDataset][]string) (string, error) {
	parts := strings.Split(string(tag), ":")
	switch {
	case len(parts) == 2 && parts[0] == "EXIF":
		switch parts[1] {
		case "Artist":
			return exif.Artist, nil
		case "Model":
			return exif.Model, nil
		case "ISOSpeedRatings":
			return exif.ISO, nil
		case "DateTimeOriginal":
			return exif.DateTimeOriginal, nil
		}
	case len(parts) == 3 && parts[0] == "IPTC":
		rec, err1 := strconv.ParseUint(parts[1], 10, 8)
		ds, err2 := strconv.ParseUint(parts[2], 10, 8)
		if err1 != nil || err2 != nil {
			break
		}
		// Repeated datasets are joined the way ImageMagick's identify does.
		return strings.Join(iptc[iptcDataset{Record: byte(rec), Dataset: byte(ds)}], ";"), nil
	}
	return "", fmt.Errorf("unknown tag path %q", tag)
}
