// Package metadata extracts the descriptive tags catalogued for every
// rendition: artist, camera, ISO rating, capture year and five IPTC
// caption/location/people fields.
//
// Tags are read in one batched pass (see TagReader) and split back into
// nine positional fields. The record shape is fixed: every field is
// present, either as an escaped string or as the literal "null".
package metadata

import (
	"bytes"
	"strings"

	"github.com/rs/zerolog/log"
)

// Null is stored for fields the photo does not carry.
const Null = "null"

// FieldCount is the number of positional fields in a tag read.
const FieldCount = 9

// Record is the catalog entry for one rendition. Field names match the
// DynamoDB attribute names.
type Record struct {
	Artist    string `json:"artist" dynamodbav:"artist"`
	Camera    string `json:"camera" dynamodbav:"camera"`
	ISORating string `json:"isorating" dynamodbav:"isorating"`
	Year      string `json:"year" dynamodbav:"year"`
	Album     string `json:"album" dynamodbav:"album"`
	Title     string `json:"title" dynamodbav:"title"`
	Country   string `json:"country" dynamodbav:"country"`
	City      string `json:"city" dynamodbav:"city"`
	People    string `json:"people" dynamodbav:"people"`
}

// EmptyRecord returns a record with every field set to Null.
func EmptyRecord() Record {
	return ParseTags("")
}

// Fields returns the record as attribute name → value.
func (r Record) Fields() map[string]string {
	return map[string]string{
		"artist":    r.Artist,
		"camera":    r.Camera,
		"isorating": r.ISORating,
		"year":      r.Year,
		"album":     r.Album,
		"title":     r.Title,
		"country":   r.Country,
		"city":      r.City,
		"people":    r.People,
	}
}

// ParseTags turns a Separator-joined tag string into a Record. Missing
// positions are treated as empty and extra positions are ignored. The
// capture date keeps only its year, single quotes in the title become
// "&#39;", every value is escape()-encoded and empty values become Null.
func ParseTags(raw string) Record {
	parts := strings.Split(raw, Separator)
	field := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}

	year, _, _ := strings.Cut(field(3), ":")

	return Record{
		Artist:    normalize(field(0)),
		Camera:    normalize(field(1)),
		ISORating: normalize(field(2)),
		Year:      normalize(year),
		Album:     normalize(field(4)),
		Title:     normalize(strings.ReplaceAll(field(5), "'", "&#39;")),
		Country:   normalize(field(6)),
		City:      normalize(field(7)),
		People:    normalize(field(8)),
	}
}

func normalize(v string) string {
	if e := escape(v); e != "" {
		return e
	}
	return Null
}

// Extractor reads the catalog tags of a photo.
type Extractor struct {
	reader TagReader
	tags   []TagPath
}

// NewExtractor returns an Extractor over reader. A nil reader selects
// ImageTagReader.
func NewExtractor(reader TagReader) *Extractor {
	if reader == nil {
		reader = ImageTagReader{}
	}
	return &Extractor{reader: reader, tags: DefaultTags}
}

// Extract reads the tags from the original (pre-resize) bytes. The returned
// Record is always complete; a non-nil error only reports that some tags
// could not be read and were left as Null.
func (e *Extractor) Extract(data []byte) (Record, error) {
	raw, err := e.reader.ReadTags(bytes.NewReader(data), e.tags)
	if err != nil {
		log.Warn().Err(err).Msg("Metadata tag read failed, continuing with available fields")
	}
	log.Debug().Str("tags", strings.ReplaceAll(raw, Separator, "/")).Msg("Metadata tags read")
	return ParseTags(raw), err
}
