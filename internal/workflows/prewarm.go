package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// DefaultChunkSize matches the batch size of the geocoding service.
const DefaultChunkSize = 25

// PrewarmInput is the input for the geocode prewarm workflow.
type PrewarmInput struct {
	Queries   []string
	ChunkSize int
}

// PrewarmResult summarizes one prewarm run.
type PrewarmResult struct {
	Queries  int // distinct queries submitted
	Cached   int // already in the cache before the run
	Resolved int // geocoded and stored
	Missing  int // geocoder had no answer
	Failed   int // lost to chunks that exhausted their retries
}

// PrewarmGeocodeWorkflow fills the geocode cache ahead of playback so that
// sessions resolve free-text locations without waiting on the geocoder.
// Queries already cached are skipped; the rest are geocoded in chunks. A
// chunk that keeps failing is counted and the run moves on.
func PrewarmGeocodeWorkflow(ctx workflow.Context, input PrewarmInput) (PrewarmResult, error) {
	logger := workflow.GetLogger(ctx)

	queries := dedupe(input.Queries)
	result := PrewarmResult{Queries: len(queries)}
	if len(queries) == 0 {
		return result, nil
	}
	logger.Info("Starting geocode prewarm", "queries", len(queries))

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	// Step 1: drop what the cache already holds
	var uncached []string
	if err := workflow.ExecuteActivity(ctx, "FilterUncached", queries).Get(ctx, &uncached); err != nil {
		return result, err
	}
	result.Cached = len(queries) - len(uncached)

	// Step 2: geocode and store the rest, chunk by chunk
	size := input.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	for start := 0; start < len(uncached); start += size {
		end := start + size
		if end > len(uncached) {
			end = len(uncached)
		}
		chunk := uncached[start:end]

		var cr ChunkResult
		if err := workflow.ExecuteActivity(ctx, "GeocodeChunk", chunk).Get(ctx, &cr); err != nil {
			logger.Warn("geocode chunk failed, skipping", "offset", start, "size", len(chunk), "error", err)
			result.Failed += len(chunk)
			continue
		}
		result.Resolved += cr.Resolved
		result.Missing += cr.Missing
	}

	logger.Info("Geocode prewarm finished",
		"cached", result.Cached, "resolved", result.Resolved, "missing", result.Missing, "failed", result.Failed)
	return result, nil
}

// dedupe drops blank and repeated queries, keeping first-seen order.
func dedupe(queries []string) []string {
	seen := make(map[string]bool, len(queries))
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}
