// Package notify hands finished uploads to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
)

// EventUploadCompleted is the event name of completion messages.
const EventUploadCompleted = "upload.completed"

// Notifier publishes completion events.
type Notifier interface {
	UploadCompleted(ctx context.Context, s *models.UploadSession, d *models.ObjectDescriptor) error
}

// UploadCompletedEvent is the message body sent for every completed upload.
type UploadCompletedEvent struct {
	Event          string    `json:"event"`
	UploadID       string    `json:"upload_id"`
	ConversationID string    `json:"conversation_id"`
	OwnerID        string    `json:"owner_id"`
	FileName       string    `json:"file_name"`
	URL            string    `json:"url"`
	Key            string    `json:"key"`
	Size           int64     `json:"size"`
	ContentType    string    `json:"content_type"`
	CompletedAt    time.Time `json:"completed_at"`
}

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var _ SQSAPI = (*sqs.Client)(nil)

// SQSNotifier sends one message per completed upload. FIFO queues get the
// conversation as message group and the upload id as deduplication id, so a
// retried publish is delivered once.
type SQSNotifier struct {
	client   SQSAPI
	queueURL string
	now      func() time.Time
}

func NewSQSNotifier(client SQSAPI, queueURL string) *SQSNotifier {
	return &SQSNotifier{client: client, queueURL: queueURL, now: time.Now}
}

// NewSQSClient builds an SQS client from a resolved aws.Config.
func NewSQSClient(cfg aws.Config) *sqs.Client {
	return sqs.NewFromConfig(cfg)
}

func (n *SQSNotifier) UploadCompleted(ctx context.Context, s *models.UploadSession, d *models.ObjectDescriptor) error {
	body, err := json.Marshal(UploadCompletedEvent{
		Event:          EventUploadCompleted,
		UploadID:       s.UploadID,
		ConversationID: s.ConversationID,
		OwnerID:        s.OwnerID,
		FileName:       s.FileName,
		URL:            d.URL,
		Key:            d.Key,
		Size:           d.Size,
		ContentType:    d.ContentType,
		CompletedAt:    n.now().UTC(),
	})
	if err != nil {
		return err
	}

	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event": {
				DataType:    aws.String("String"),
				StringValue: aws.String(EventUploadCompleted),
			},
			"conversation_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(s.ConversationID),
			},
		},
	}
	if strings.HasSuffix(n.queueURL, ".fifo") {
		in.MessageGroupId = aws.String(s.ConversationID)
		in.MessageDeduplicationId = aws.String(s.UploadID)
	}

	if _, err := n.client.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

// Nop discards events. Used when no queue is configured.
type Nop struct{}

func (Nop) UploadCompleted(context.Context, *models.UploadSession, *models.ObjectDescriptor) error {
	return nil
}
