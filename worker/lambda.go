package worker

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
)

// HandleScheduledEvent adapts the poller to a scheduled AWS Lambda
// invocation (EventBridge/CloudWatch rule). This function is designed to
// be registered as the Lambda handler; a returned error lets the platform
// retry the sweep.
func (p *Poller) HandleScheduledEvent(ctx context.Context, event events.CloudWatchEvent) error {
	claimed, err := p.Sweep(ctx)
	if err != nil {
		p.log.ErrorContext(ctx, "scheduled sweep failed",
			"event_id", event.ID,
			"error", err,
		)
		return err
	}
	p.log.InfoContext(ctx, "scheduled sweep completed",
		"event_id", event.ID,
		"claimed", claimed,
	)
	return nil
}
