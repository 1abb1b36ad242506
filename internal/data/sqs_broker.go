package data

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/runfrog/runfrog/internal/core"
	"github.com/runfrog/runfrog/internal/domain/model"
)

const sqsMaxWaitSeconds = 20

// SQSAPI is the subset of the SQS client used by SQSBroker.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSBroker queues task messages on an SQS queue.
type SQSBroker struct {
	client            SQSAPI
	queueURL          string
	visibilityTimeout int32
}

// SQSBrokerOptions configures an SQSBroker.
type SQSBrokerOptions struct {
	Client   SQSAPI
	QueueURL string
	// VisibilityTimeout hides a received message from other workers. Workers
	// renew it with Extend while a task runs. Defaults to 60s.
	VisibilityTimeout time.Duration
}

// NewSQSBroker creates an SQS broker.
func NewSQSBroker(opts SQSBrokerOptions) *SQSBroker {
	vis := opts.VisibilityTimeout
	if vis <= 0 {
		vis = 60 * time.Second
	}
	return &SQSBroker{
		client:            opts.Client,
		queueURL:          opts.QueueURL,
		visibilityTimeout: int32(vis / time.Second),
	}
}

// Publish sends a task message.
func (b *SQSBroker) Publish(ctx context.Context, msg model.TaskMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	_, err = b.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(b.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

// Receive long-polls for one message.
func (b *SQSBroker) Receive(ctx context.Context, wait time.Duration) (*core.Delivery, error) {
	waitSeconds := int32(wait / time.Second)
	if waitSeconds > sqsMaxWaitSeconds {
		waitSeconds = sqsMaxWaitSeconds
	}

	out, err := b.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(b.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     waitSeconds,
		VisibilityTimeout:   b.visibilityTimeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("sqs receive: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, core.ErrNoMessage
	}

	m := out.Messages[0]
	body := []byte(aws.ToString(m.Body))
	handle := aws.ToString(m.ReceiptHandle)
	task, err := model.DecodeTaskMessage(body)
	if err != nil {
		_, _ = b.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(b.queueURL),
			ReceiptHandle: aws.String(handle),
		})
		return nil, err
	}
	return &core.Delivery{Message: task, Body: body, Handle: handle}, nil
}

// Ack deletes the message behind a delivery.
func (b *SQSBroker) Ack(ctx context.Context, d *core.Delivery) error {
	_, err := b.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(b.queueURL),
		ReceiptHandle: aws.String(d.Handle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

// Extend resets the visibility timeout of a delivery.
func (b *SQSBroker) Extend(ctx context.Context, d *core.Delivery) error {
	_, err := b.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(b.queueURL),
		ReceiptHandle:     aws.String(d.Handle),
		VisibilityTimeout: b.visibilityTimeout,
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility: %w", err)
	}
	return nil
}

// Close is a no-op.
func (b *SQSBroker) Close() error { return nil }
