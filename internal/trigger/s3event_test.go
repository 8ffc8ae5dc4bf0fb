package trigger

import (
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

func TestDecodeComponent(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "My+Photo.jpeg", want: "My Photo.jpeg"},
		{in: "plain.jpg", want: "plain.jpg"},
		{in: "caf%C3%A9.jpg", want: "café.jpg"},
		{in: "a%2Bb.jpg", want: "a+b.jpg"},
		{in: "100%25+done.jpg", want: "100% done.jpg"},
		{in: "albums/2016/Summer+Trip/IMG_0001.JPG", want: "albums/2016/Summer Trip/IMG_0001.JPG"},
		{in: "AWS%3AAIDAEXAMPLE", want: "AWS:AIDAEXAMPLE"},
		{in: "bad%ZZ.jpg", wantErr: true},
		{in: "trunc%E2%82.jpg", wantErr: true},
		{in: "latin%E9.jpg", wantErr: true},
		{in: "dangling%", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := DecodeComponent(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedEvent) {
					t.Errorf("DecodeComponent(%q) error = %v, want ErrMalformedEvent", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeComponent(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("DecodeComponent(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func s3Record(bucket, key, principal string) events.S3EventRecord {
	return events.S3EventRecord{
		EventName:   "ObjectCreated:Put",
		EventTime:   time.Date(2017, 3, 1, 12, 30, 0, 0, time.UTC),
		PrincipalID: events.S3UserIdentity{PrincipalID: principal},
		S3: events.S3Entity{
			Bucket: events.S3Bucket{Name: bucket},
			Object: events.S3Object{Key: key},
		},
	}
}

func TestFromS3Event(t *testing.T) {
	ev := events.S3Event{Records: []events.S3EventRecord{
		s3Record("incoming", "My+Photo.jpeg", "AWS%3AAIDAEXAMPLE"),
		s3Record("incoming", "second.jpg", "other"),
	}}

	got, err := FromS3Event(ev)
	if err != nil {
		t.Fatalf("FromS3Event() error: %v", err)
	}
	if got.SourceBucket != "incoming" || got.SourceKey != "My Photo.jpeg" {
		t.Errorf("source = %s", got.Source())
	}
	if got.ActorID != "AWS:AIDAEXAMPLE" {
		t.Errorf("ActorID = %q", got.ActorID)
	}
	if !got.EventTime.Equal(time.Date(2017, 3, 1, 12, 30, 0, 0, time.UTC)) {
		t.Errorf("EventTime = %v", got.EventTime)
	}
}

func TestFromS3EventErrors(t *testing.T) {
	tests := []struct {
		name string
		ev   events.S3Event
		want error
	}{
		{"no records", events.S3Event{}, ErrNoRecords},
		{"bad key", events.S3Event{Records: []events.S3EventRecord{s3Record("b", "x%G1.jpg", "p")}}, ErrMalformedEvent},
		{"bad principal", events.S3Event{Records: []events.S3EventRecord{s3Record("b", "x.jpg", "%")}}, ErrMalformedEvent},
		{"no bucket", events.S3Event{Records: []events.S3EventRecord{s3Record("", "x.jpg", "p")}}, ErrMalformedEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromS3Event(tt.ev); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}
