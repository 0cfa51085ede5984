package jobs

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/forgeline/forgeline/internal/orders"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOrderStatusChanged notifies the order's owner of a committed status change.
	TaskOrderStatusChanged = "orders:status_changed"
)

const notificationMaxRetry = 5

// NewOrderStatusChangedTask constructs the notification task for change.
// Each task carries a fresh id so the worker can deduplicate redeliveries.
func NewOrderStatusChangedTask(change orders.StatusChange) (*asynq.Task, error) {
	if change.OrderID <= 0 || change.OrderNumber == "" {
		return nil, errors.New("status change requires order id and number")
	}
	body, err := json.Marshal(change)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderStatusChanged, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID(uuid.NewString()),
		asynq.MaxRetry(notificationMaxRetry),
	), nil
}
