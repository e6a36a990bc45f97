// Package provider implements mail provider adapters.
package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"insight_server/core/port/out"
	"insight_server/pkg/apperr"
)

// =============================================================================
// Gmail Source
// =============================================================================

const (
	defaultPageSize     = 100
	defaultConcurrency  = 5
	perMessageTimeout   = 15 * time.Second
	minPageSize         = 10
	minConcurrency      = 1
)

// TokenProvider resolves a stored OAuth token for a user. Token persistence
// and refresh live outside this adapter.
type TokenProvider interface {
	TokenFor(ctx context.Context, userID string) (*oauth2.Token, error)
}

// GmailConfig holds Gmail OAuth configuration.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GmailSource implements out.MailSource against the Gmail API. Repeated
// throttling halves the page size and fetch concurrency for the remainder of
// the process lifetime.
type GmailSource struct {
	config *oauth2.Config
	tokens TokenProvider
	cb     *gobreaker.CircuitBreaker
	log    zerolog.Logger

	pageSize    int64 // atomic, adaptive
	concurrency int32 // atomic, adaptive
}

var _ out.MailSource = (*GmailSource)(nil)

func NewGmailSource(cfg *GmailConfig, tokens TokenProvider, log zerolog.Logger) *GmailSource {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}

	componentLog := log.With().Str("component", "gmail_source").Logger()

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,                // Half-open 상태에서 허용할 요청 수
		Interval:    60 * time.Second, // Closed 상태에서 카운터 리셋 간격
		Timeout:     30 * time.Second, // Open 상태 유지 시간 (이후 Half-open)
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			componentLog.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
		// Client errors must not trip the breaker; only server-side failures
		// and throttling indicate an unhealthy upstream.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if apiErr, ok := err.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 400, 401, 403, 404:
					return true
				}
			}
			return false
		},
	}

	return &GmailSource{
		config:      config,
		tokens:      tokens,
		cb:          gobreaker.NewCircuitBreaker(cbSettings),
		log:         componentLog,
		pageSize:    defaultPageSize,
		concurrency: defaultConcurrency,
	}
}

// Connect validates that a usable token exists for the user.
func (s *GmailSource) Connect(ctx context.Context, userID string) error {
	svc, err := s.service(ctx, userID)
	if err != nil {
		return err
	}

	_, err = s.execute("get_profile", func() (any, error) {
		return svc.Users.GetProfile("me").Context(ctx).Do()
	})
	if err != nil {
		return s.wrapError(err, "failed to connect to gmail")
	}
	return nil
}

// FetchSince lists and fetches all messages in the window. The query excludes
// the sent folder at the provider, not post-hoc.
func (s *GmailSource) FetchSince(ctx context.Context, userID string, window out.FetchWindow) ([]out.RawRecord, error) {
	svc, err := s.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("after:%s -in:sent", window.Since(time.Now()).Format("2006/01/02"))
	s.log.Debug().Str("query", query).Msg("fetching messages")

	var refs []*gmail.Message
	pageToken := ""
	for {
		req := svc.Users.Messages.List("me").
			Q(query).
			MaxResults(atomic.LoadInt64(&s.pageSize))
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		res, err := s.execute("list_messages", func() (any, error) {
			return req.Context(ctx).Do()
		})
		if err != nil {
			return nil, s.wrapError(err, "failed to list messages")
		}
		resp := res.(*gmail.ListMessagesResponse)

		refs = append(refs, resp.Messages...)
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return s.fetchParallel(ctx, svc, refs), nil
}

// fetchParallel fetches full messages with bounded concurrency, preserving
// the listing order. Individual failures drop the record, not the batch.
func (s *GmailSource) fetchParallel(ctx context.Context, svc *gmail.Service, refs []*gmail.Message) []out.RawRecord {
	if len(refs) == 0 {
		return []out.RawRecord{}
	}

	type result struct {
		index  int
		record out.RawRecord
		err    error
	}

	results := make(chan result, len(refs))
	sem := make(chan struct{}, int(atomic.LoadInt32(&s.concurrency)))

	for i, ref := range refs {
		go func(idx int, id string) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results <- result{index: idx, err: ctx.Err()}
				return
			}

			msgCtx, cancel := context.WithTimeout(ctx, perMessageTimeout)
			defer cancel()

			msg, err := svc.Users.Messages.Get("me", id).
				Format("full").
				Context(msgCtx).Do()
			if err != nil {
				if isRateLimit(err) {
					s.throttle()
				}
				results <- result{index: idx, err: err}
				return
			}
			results <- result{index: idx, record: convertMessage(msg)}
		}(i, ref.Id)
	}

	records := make([]out.RawRecord, len(refs))
	failed := 0
	for range refs {
		select {
		case r := <-results:
			if r.err != nil {
				failed++
				s.log.Warn().Err(r.err).Msg("failed to fetch message")
				continue
			}
			records[r.index] = r.record
		case <-ctx.Done():
			failed++
		}
	}
	if failed > 0 {
		s.log.Warn().Int("failed", failed).Int("total", len(refs)).Msg("partial message fetch")
	}

	filtered := make([]out.RawRecord, 0, len(records))
	for _, rec := range records {
		if rec.ID != "" {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}

// throttle halves page size and concurrency after a quota response.
func (s *GmailSource) throttle() {
	for {
		cur := atomic.LoadInt64(&s.pageSize)
		next := cur / 2
		if next < minPageSize {
			next = minPageSize
		}
		if atomic.CompareAndSwapInt64(&s.pageSize, cur, next) {
			break
		}
	}
	for {
		cur := atomic.LoadInt32(&s.concurrency)
		next := cur / 2
		if next < minConcurrency {
			next = minConcurrency
		}
		if atomic.CompareAndSwapInt32(&s.concurrency, cur, next) {
			break
		}
	}
	s.log.Warn().
		Int64("page_size", atomic.LoadInt64(&s.pageSize)).
		Int32("concurrency", atomic.LoadInt32(&s.concurrency)).
		Msg("throttled by provider, reducing fetch rate")
}

func (s *GmailSource) service(ctx context.Context, userID string) (*gmail.Service, error) {
	token, err := s.tokens.TokenFor(ctx, userID)
	if err != nil {
		return nil, apperr.ContextError("failed to resolve user token", err)
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(
		s.config.TokenSource(ctx, token),
	))
	if err != nil {
		return nil, apperr.SourceError("failed to build gmail service", err)
	}
	return svc, nil
}

// execute wraps an API call with circuit breaker protection.
func (s *GmailSource) execute(operation string, fn func() (any, error)) (any, error) {
	res, err := s.cb.Execute(fn)
	if err != nil {
		s.log.Debug().Err(err).Str("operation", operation).Msg("gmail api call failed")
	}
	return res, err
}

func isRateLimit(err error) bool {
	if apiErr, ok := err.(*googleapi.Error); ok {
		return apiErr.Code == 429 ||
			(apiErr.Code == 403 && strings.Contains(apiErr.Message, "Rate Limit"))
	}
	return false
}

func (s *GmailSource) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperr.SourceError("gmail circuit open", err)
	}
	if isRateLimit(err) {
		s.throttle()
		return apperr.RateLimited("gmail", err)
	}
	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case 401, 403:
			return apperr.ContextError("gmail authorization failed", err)
		}
	}
	return apperr.SourceError(defaultMsg, err)
}

// =============================================================================
// Message Conversion
// =============================================================================

// convertMessage flattens a Gmail message into a RawRecord: headers map, HTML
// and plain-text bodies, snippet and internal receive time.
func convertMessage(msg *gmail.Message) out.RawRecord {
	record := out.RawRecord{
		ID:      msg.Id,
		Headers: map[string]string{},
		Snippet: msg.Snippet,
	}
	if msg.InternalDate > 0 {
		record.Internal = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		return record
	}

	for _, h := range msg.Payload.Headers {
		record.Headers[h.Name] = h.Value
	}

	html, text := extractBodies(msg.Payload)
	record.HTMLBody = html
	record.TextBody = text
	return record
}

// extractBodies walks the MIME tree collecting the first text/html and
// text/plain parts.
func extractBodies(part *gmail.MessagePart) (html, text string) {
	if part == nil {
		return "", ""
	}

	if part.Body != nil && part.Body.Data != "" {
		if decoded, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			switch part.MimeType {
			case "text/html":
				html = string(decoded)
			case "text/plain":
				text = string(decoded)
			}
		}
	}

	for _, child := range part.Parts {
		childHTML, childText := extractBodies(child)
		if html == "" {
			html = childHTML
		}
		if text == "" {
			text = childText
		}
		if html != "" && text != "" {
			break
		}
	}
	return html, text
}
