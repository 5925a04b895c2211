package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"dashboard/domain"
)

type queueAPI interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// EventQueue delivers item events to an Azure Storage queue, one message per
// event.
type EventQueue struct {
	queue queueAPI
}

// NewEventQueue creates an EventQueue from the given connection string.
func NewEventQueue(connStr, queueName string) (*EventQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &EventQueue{queue: qc}, nil
}

func (q *EventQueue) Publish(ctx context.Context, ev domain.ItemEvent) error {
	data, err := sonic.MarshalString(ev)
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, data, nil)
	return err
}
