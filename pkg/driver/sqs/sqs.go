package sqs

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pixelvide/ownmailer/pkg/queue"
)

// Client is the part of the SQS API the driver uses.
type Client interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSDriver reads from a single queue URL. Queue names passed to Pop and
// Push are ignored. Unacknowledged messages come back after the queue's
// visibility timeout.
type SQSDriver struct {
	client   Client
	queueUrl string

	// WaitTimeSeconds is the long polling window of each receive.
	WaitTimeSeconds int32
}

// NewSQSDriver creates a new SQS driver
func NewSQSDriver(client Client, queueUrl string) *SQSDriver {
	return &SQSDriver{
		client:          client,
		queueUrl:        queueUrl,
		WaitTimeSeconds: 20,
	}
}

// Pop long-polls for one message and returns queue.ErrEmpty when the
// window closes with nothing received.
func (s *SQSDriver) Pop(ctx context.Context, queueName string) (*queue.Job, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueUrl),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     s.WaitTimeSeconds,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	}

	resp, err := s.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, queue.ErrEmpty
	}

	msg := resp.Messages[0]
	job := &queue.Job{
		ID:   aws.ToString(msg.ReceiptHandle),
		Body: []byte(aws.ToString(msg.Body)),
	}
	if count, ok := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]; ok {
		job.Received, _ = strconv.Atoi(count)
	}
	return job, nil
}

// Push adds a job to SQS
func (s *SQSDriver) Push(ctx context.Context, queueName string, body []byte) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueUrl),
		MessageBody: aws.String(string(body)),
	}

	_, err := s.client.SendMessage(ctx, input)
	return err
}

// Ack deletes the job from SQS
func (s *SQSDriver) Ack(ctx context.Context, job *queue.Job) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueUrl),
		ReceiptHandle: aws.String(job.ID),
	}

	_, err := s.client.DeleteMessage(ctx, input)
	return err
}
