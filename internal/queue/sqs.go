package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSQueue is the production Queue backed by one SQS queue plus its
// dead-letter queue. Redelivery past the queue's redrive max receive count is
// handled by SQS itself; DeadLetter covers immediate parking only.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
	dlqURL   string
}

// SQSConfig carries the connection settings for NewSQSQueue.
type SQSConfig struct {
	Region   string
	Endpoint string // localstack override, empty in production
	QueueURL string
	DLQURL   string
}

// NewSQSQueue creates a queue client using the default AWS credential chain.
func NewSQSQueue(ctx context.Context, cfg SQSConfig) (*SQSQueue, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &SQSQueue{
		client:   client,
		queueURL: cfg.QueueURL,
		dlqURL:   cfg.DLQURL,
	}, nil
}

func (q *SQSQueue) Send(ctx context.Context, msg Message, delay time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(delay / time.Second),
	})
	if err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind, err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context) (Delivery, error) {
	for {
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     20,
			MessageSystemAttributeNames: []types.MessageSystemAttributeName{
				types.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				return Delivery{}, ctx.Err()
			}
			return Delivery{}, fmt.Errorf("receive: %w", err)
		}
		if len(out.Messages) == 0 {
			continue
		}

		raw := out.Messages[0]
		var msg Message
		if err := json.Unmarshal([]byte(aws.ToString(raw.Body)), &msg); err != nil {
			return Delivery{}, fmt.Errorf("unmarshal message: %w", err)
		}

		receiveCount := 1
		if s, ok := raw.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
			if n, err := strconv.Atoi(s); err == nil {
				receiveCount = n
			}
		}

		return Delivery{
			Message:      msg,
			ReceiveCount: receiveCount,
			Handle:       aws.ToString(raw.ReceiptHandle),
		}, nil
	}
}

func (q *SQSQueue) Delete(ctx context.Context, d Delivery) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(d.Handle),
	})
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

func (q *SQSQueue) DeadLetter(ctx context.Context, d Delivery) error {
	body, err := json.Marshal(d.Message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.dlqURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("dead-letter send: %w", err)
	}
	return q.Delete(ctx, d)
}

func (q *SQSQueue) ApproximateDepth(ctx context.Context) (int64, error) {
	return q.depth(ctx, q.queueURL)
}

func (q *SQSQueue) DLQDepth(ctx context.Context) (int64, error) {
	return q.depth(ctx, q.dlqURL)
}

func (q *SQSQueue) depth(ctx context.Context, queueURL string) (int64, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("queue attributes: %w", err)
	}

	var total int64
	for _, attr := range []types.QueueAttributeName{
		types.QueueAttributeNameApproximateNumberOfMessages,
		types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
	} {
		if s, ok := out.Attributes[string(attr)]; ok {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				total += n
			}
		}
	}
	return total, nil
}

func (q *SQSQueue) Purge(ctx context.Context) error {
	_, err := q.client.PurgeQueue(ctx, &sqs.PurgeQueueInput{
		QueueUrl: aws.String(q.queueURL),
	})
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	return nil
}
