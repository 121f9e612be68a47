// Package notify reports terminal run outcomes to an SQS queue. Every run
// emits exactly one message; an unconfigured queue URL downgrades to a logged
// skip so local runs work without a queue.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	apperrors "github.com/rearc-quest/dataquest/pkg/errors"
)

// Outcome is the notification payload for one run.
type Outcome struct {
	Classification string    `json:"classification"`
	Detail         string    `json:"detail"`
	Timestamp      time.Time `json:"timestamp"`
	Fingerprint    string    `json:"fingerprint,omitempty"`
	RawKey         string    `json:"raw_key,omitempty"`
	OutputKey      string    `json:"output_key,omitempty"`
}

// SQSAPI is the SQS client surface used by the notifier.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Notifier sends run outcomes to a queue.
type Notifier struct {
	client   SQSAPI
	queueURL string
}

// NewNotifier creates a notifier using the default AWS credential chain.
func NewNotifier(ctx context.Context, queueURL, region string) (*Notifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load AWS config")
	}
	return &Notifier{client: sqs.NewFromConfig(cfg), queueURL: queueURL}, nil
}

// NewNotifierWithClient is the injection point for tests.
func NewNotifierWithClient(client SQSAPI, queueURL string) *Notifier {
	return &Notifier{client: client, queueURL: queueURL}
}

// Notify sends one JSON message for the outcome. With no queue configured it
// logs and returns nil.
func (n *Notifier) Notify(ctx context.Context, outcome *Outcome) error {
	if n.queueURL == "" {
		slog.Warn("notification_skipped", "reason", "queue_url_not_set", "classification", outcome.Classification)
		return nil
	}

	body, err := json.Marshal(outcome)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal outcome")
	}

	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"source": {
				DataType:    aws.String("String"),
				StringValue: aws.String("data-pipeline"),
			},
			"event": {
				DataType:    aws.String("String"),
				StringValue: aws.String("run_completed"),
			},
		},
	})
	if err != nil {
		slog.Error("notification_failed", "queue_url", n.queueURL, "error", err)
		return apperrors.Wrap(err, "failed to send SQS notification")
	}

	slog.Info("notification_sent", "queue_url", n.queueURL, "classification", outcome.Classification)
	return nil
}
