package in

import (
	"context"

	"insight_server/core/domain"
)

// AnalysisService is the inbound port for running the analysis pipeline.
//
// Run starts a pipeline run for the user and returns a channel of ordered
// stream events. The channel is closed after the terminal complete or error
// frame. Cancelling the context abandons in-flight batches; results already
// written to the cache remain valid.
type AnalysisService interface {
	Run(ctx context.Context, userID string, cmd domain.AnalysisCommand) (<-chan domain.StreamEvent, error)
}
