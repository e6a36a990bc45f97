package provider

import (
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"insight_server/core/domain"
	"insight_server/core/port/out"
)

// =============================================================================
// Metadata Parser
// =============================================================================

// HeaderMetadataParser extracts canonical metadata from raw records. A nil
// return signals an unparsable record; the caller logs and skips it.
type HeaderMetadataParser struct {
	log zerolog.Logger
}

var _ out.MetadataParser = (*HeaderMetadataParser)(nil)

func NewHeaderMetadataParser(log zerolog.Logger) *HeaderMetadataParser {
	return &HeaderMetadataParser{
		log: log.With().Str("component", "metadata_parser").Logger(),
	}
}

// Extract builds EmailMetadata from a record. The HTML body is preferred with
// plain text as fallback; the date is normalized to UTC.
func (p *HeaderMetadataParser) Extract(record out.RawRecord) *domain.EmailMetadata {
	id := cleanID(record.ID)
	if id == "" {
		p.log.Warn().Msg("record has no usable id, skipping")
		return nil
	}

	date := parseDate(record)
	if date.IsZero() {
		p.log.Warn().Str("record_id", id).Msg("record has no parsable date, skipping")
		return nil
	}

	body := record.HTMLBody
	if body == "" {
		body = record.TextBody
	}
	if body == "" {
		body = record.Snippet
	}

	meta := &domain.EmailMetadata{
		ID:      id,
		Subject: strings.TrimSpace(record.Headers["Subject"]),
		Sender:  parseSender(record.Headers["From"]),
		Body:    body,
		Date:    date.UTC(),
	}
	if err := meta.Validate(); err != nil {
		p.log.Warn().Err(err).Str("record_id", id).Msg("extracted metadata failed validation")
		return nil
	}
	return meta
}

// cleanID strips whitespace and angle brackets from a message identifier.
func cleanID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return id
}

// parseSender extracts the bare address from a From header, falling back to
// the raw value when it is not RFC 5322 parsable.
func parseSender(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address)
	}
	return strings.ToLower(from)
}

// parseDate prefers the Date header, falling back to the provider's internal
// receive time.
func parseDate(record out.RawRecord) time.Time {
	if raw := record.Headers["Date"]; raw != "" {
		if t, err := mail.ParseDate(raw); err == nil {
			return t
		}
	}
	return record.Internal
}
