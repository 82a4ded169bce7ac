package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/autospook/internal/queue/streams"
)

// Enqueue publishes an investigation.requested event and returns the investigation ID.
// A missing ID is generated; RequestedAt defaults to now.
func Enqueue(ctx context.Context, sink Sink, stream string, req streams.InvestigationRequested, opts ...streams.PublishOption) (string, error) {
	if strings.TrimSpace(req.TargetName) == "" {
		return "", fmt.Errorf("target name is required")
	}
	if req.InvestigationID == "" {
		req.InvestigationID = uuid.NewString()
	}
	if req.RequestedBy == "" {
		req.RequestedBy = "cli"
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	if _, err := sink.PublishEvent(ctx, stream, streams.EventInvestigationRequested, req, opts...); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", req.InvestigationID, err)
	}
	return req.InvestigationID, nil
}
