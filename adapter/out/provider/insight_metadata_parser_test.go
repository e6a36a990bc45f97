package provider

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"insight_server/core/port/out"
)

func TestExtract(t *testing.T) {
	p := NewHeaderMetadataParser(zerolog.Nop())

	record := out.RawRecord{
		ID: " <msg-123> ",
		Headers: map[string]string{
			"From":    "Jane Doe <Jane@Example.com>",
			"Subject": "  Weekly sync  ",
			"Date":    "Mon, 05 Jan 2026 14:30:00 +0900",
		},
		HTMLBody: "<p>agenda</p>",
		TextBody: "agenda",
	}

	meta := p.Extract(record)
	if meta == nil {
		t.Fatal("Extract returned nil for a valid record")
	}
	if meta.ID != "msg-123" {
		t.Errorf("ID = %q, want cleaned %q", meta.ID, "msg-123")
	}
	if meta.Sender != "jane@example.com" {
		t.Errorf("Sender = %q, want bare lowercase address", meta.Sender)
	}
	if meta.Subject != "Weekly sync" {
		t.Errorf("Subject = %q", meta.Subject)
	}
	if meta.Body != "<p>agenda</p>" {
		t.Errorf("Body = %q, want HTML part preferred", meta.Body)
	}
	if meta.Date.Location() != time.UTC {
		t.Errorf("Date location = %v, want UTC", meta.Date.Location())
	}
	want := time.Date(2026, 1, 5, 5, 30, 0, 0, time.UTC)
	if !meta.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", meta.Date, want)
	}
}

func TestExtractBodyFallbacks(t *testing.T) {
	p := NewHeaderMetadataParser(zerolog.Nop())
	base := out.RawRecord{
		ID:      "m1",
		Headers: map[string]string{"Date": "Mon, 05 Jan 2026 10:00:00 +0000"},
	}

	tests := []struct {
		name string
		html string
		text string
		snip string
		want string
	}{
		{"html preferred", "<p>h</p>", "t", "s", "<p>h</p>"},
		{"text fallback", "", "t", "s", "t"},
		{"snippet last resort", "", "", "s", "s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := base
			rec.HTMLBody, rec.TextBody, rec.Snippet = tt.html, tt.text, tt.snip
			meta := p.Extract(rec)
			if meta == nil {
				t.Fatal("Extract returned nil")
			}
			if meta.Body != tt.want {
				t.Errorf("Body = %q, want %q", meta.Body, tt.want)
			}
		})
	}
}

func TestExtractUnparsable(t *testing.T) {
	p := NewHeaderMetadataParser(zerolog.Nop())

	tests := []struct {
		name   string
		record out.RawRecord
	}{
		{"missing id", out.RawRecord{Headers: map[string]string{"Date": "Mon, 05 Jan 2026 10:00:00 +0000"}}},
		{"whitespace id", out.RawRecord{ID: "  ", Headers: map[string]string{"Date": "Mon, 05 Jan 2026 10:00:00 +0000"}}},
		{"no date at all", out.RawRecord{ID: "m1", Headers: map[string]string{}}},
		{"garbage date and zero internal", out.RawRecord{ID: "m1", Headers: map[string]string{"Date": "not a date"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if meta := p.Extract(tt.record); meta != nil {
				t.Errorf("Extract = %+v, want nil", meta)
			}
		})
	}
}

func TestExtractInternalDateFallback(t *testing.T) {
	p := NewHeaderMetadataParser(zerolog.Nop())
	internal := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	meta := p.Extract(out.RawRecord{
		ID:       "m1",
		Headers:  map[string]string{"Date": "not a date"},
		Internal: internal,
	})
	if meta == nil {
		t.Fatal("Extract returned nil")
	}
	if !meta.Date.Equal(internal) {
		t.Errorf("Date = %v, want internal time %v", meta.Date, internal)
	}
}

func TestParseSender(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Jane <jane@x.com>", "jane@x.com"},
		{"jane@x.com", "jane@x.com"},
		{"UPPER@X.COM", "upper@x.com"},
		{"not an address", "not an address"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := parseSender(tt.in); got != tt.want {
			t.Errorf("parseSender(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFetchWindowSince(t *testing.T) {
	tz, _ := time.LoadLocation("Asia/Seoul")
	now := time.Date(2026, 1, 10, 20, 0, 0, 0, time.UTC) // Jan 11 05:00 KST

	w := out.FetchWindow{DaysBack: 3, Timezone: tz}
	got := w.Since(now)
	want := time.Date(2026, 1, 9, 0, 0, 0, 0, tz)
	if !got.Equal(want) {
		t.Errorf("Since = %v, want %v", got, want)
	}
}
