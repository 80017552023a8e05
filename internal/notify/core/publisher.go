package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"conjure/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// DeliveryPublisher wraps an SQS client to publish DeliveryMessages for
// retry or initial dispatch.
//
// The key contract: Publish increments msg.RetryCount BEFORE serializing to
// JSON, ensuring the downstream consumer sees the updated retry state.
type DeliveryPublisher struct {
	client   SQSSender
	queueURL string
	logger   types.Logger
}

// NewDeliveryPublisher creates a DeliveryPublisher targeting the specified
// SQS delivery queue.
func NewDeliveryPublisher(client SQSSender, queueURL string, logger types.Logger) *DeliveryPublisher {
	return &DeliveryPublisher{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish increments the message's RetryCount, serializes it to JSON, and
// sends it to the delivery SQS queue with the specified delay.
//
// The delay parameter controls the SQS DelaySeconds for backoff. SQS enforces
// a maximum of 900 seconds (15 minutes); delays beyond that are clamped.
//
// RetryCount increment happens before serialization so the next consumer of
// the message sees an accurate retry attempt number and can apply correct
// backoff or detect exhaustion.
func (p *DeliveryPublisher) Publish(ctx context.Context, msg types.DeliveryMessage, delay time.Duration) error {
	msg.RetryCount++

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("delivery publisher: failed to marshal message: %w", err)
	}

	// Clamp delay to SQS maximum of 900 seconds.
	delaySec := int32(delay.Seconds())
	if delaySec > 900 {
		delaySec = 900
	}
	if delaySec < 0 {
		delaySec = 0
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(p.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySec,
	}

	_, err = p.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("delivery publisher: failed to send message to %s: %w", p.queueURL, err)
	}

	p.logger.Info("delivery message published",
		"generation_id", msg.GenerationID,
		"platform", string(msg.Platform),
		"retry_count", msg.RetryCount,
		"delay_seconds", delaySec,
		"trace_id", msg.TraceID,
	)

	return nil
}
