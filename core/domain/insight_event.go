package domain

// =============================================================================
// Stream Event Protocol
// =============================================================================
//
// The pipeline emits an ordered sequence of typed frames:
//
//   status -> cached -> status -> initial_stats -> (status|batch)* -> stats -> complete
//
// Consumers must tolerate zero or more cached/batch frames. An error frame may
// appear at any point and terminates the stream. The connected frame is
// emitted by the transport layer when the stream opens, before any of the
// above.

// EventType identifies a stream frame.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventStatus       EventType = "status"
	EventCached       EventType = "cached"
	EventInitialStats EventType = "initial_stats"
	EventBatch        EventType = "batch"
	EventStats        EventType = "stats"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
)

// StreamEvent is one typed frame on the event stream.
type StreamEvent struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// StatusData carries a human-readable progress message.
type StatusData struct {
	Message string `json:"message"`
}

// CachedData carries previously analyzed emails emitted before (and possibly
// again after) the live fetch.
type CachedData struct {
	Emails          []*ProcessedEmail `json:"emails"`
	ReplacePrevious bool              `json:"replace_previous,omitempty"`
	FilteredCount   int               `json:"filtered_count,omitempty"`
}

// InitialStatsData is emitted once the live set has been diffed.
type InitialStatsData struct {
	TotalFetched int `json:"total_fetched"`
	NewEmails    int `json:"new_emails"`
	Cached       int `json:"cached"`
}

// BatchData carries one analyzed batch.
type BatchData struct {
	Emails []*ProcessedEmail `json:"emails"`
}

// RunStats is the final aggregated accounting, computed once at Done.
type RunStats struct {
	TotalProcessed       int `json:"total_processed"`
	NewEmails            int `json:"new_emails"`
	SuccessfullyParsed   int `json:"successfully_parsed"`
	SuccessfullyAnalyzed int `json:"successfully_analyzed"`
	FailedParsing        int `json:"failed_parsing"`
	FailedAnalysis       int `json:"failed_analysis"`
	Batches              int `json:"batches"`
	Total                int `json:"total"`
}

// CompleteData is the terminal frame of a successful run.
type CompleteData struct {
	Processed int `json:"processed"`
	Cached    int `json:"cached"`
	Total     int `json:"total"`
}

// ErrorData is the terminal frame of a failed run.
type ErrorData struct {
	Message string `json:"message"`
}

// Frame constructors.

func NewStatusEvent(message string) StreamEvent {
	return StreamEvent{Type: EventStatus, Data: StatusData{Message: message}}
}

func NewCachedEvent(emails []*ProcessedEmail, replace bool, filtered int) StreamEvent {
	if emails == nil {
		emails = []*ProcessedEmail{}
	}
	return StreamEvent{Type: EventCached, Data: CachedData{
		Emails:          emails,
		ReplacePrevious: replace,
		FilteredCount:   filtered,
	}}
}

func NewInitialStatsEvent(fetched, newEmails, cached int) StreamEvent {
	return StreamEvent{Type: EventInitialStats, Data: InitialStatsData{
		TotalFetched: fetched,
		NewEmails:    newEmails,
		Cached:       cached,
	}}
}

func NewBatchEvent(emails []*ProcessedEmail) StreamEvent {
	if emails == nil {
		emails = []*ProcessedEmail{}
	}
	return StreamEvent{Type: EventBatch, Data: BatchData{Emails: emails}}
}

func NewStatsEvent(stats RunStats) StreamEvent {
	return StreamEvent{Type: EventStats, Data: stats}
}

func NewCompleteEvent(processed, cached, total int) StreamEvent {
	return StreamEvent{Type: EventComplete, Data: CompleteData{
		Processed: processed,
		Cached:    cached,
		Total:     total,
	}}
}

func NewErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Data: ErrorData{Message: message}}
}
