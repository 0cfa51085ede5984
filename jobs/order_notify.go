package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	jobmetrics "github.com/forgeline/forgeline/internal/jobs"
	"github.com/forgeline/forgeline/internal/orders"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Notification is a message addressed to an order's owner.
type Notification struct {
	DedupeKey string
	UserID    int64
	OrderID   int64
	Subject   string
	Body      string
	CreatedAt time.Time
}

// NotificationStore persists notifications for delivery.
type NotificationStore interface {
	// Save stores n once per DedupeKey and reports whether it was new.
	Save(ctx context.Context, n Notification) (bool, error)
}

// OrderNotificationJob turns status change tasks into customer notifications.
type OrderNotificationJob struct {
	Store   NotificationStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewOrderNotificationJob wires dependencies for the notification handler.
func NewOrderNotificationJob(store NotificationStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *OrderNotificationJob {
	return &OrderNotificationJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskOrderStatusChanged tasks.
func (j *OrderNotificationJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Store == nil {
		return errors.New("order notification: handler not configured")
	}
	var change orders.StatusChange
	if err := json.Unmarshal(t.Payload(), &change); err != nil {
		j.logger().Warn("drop malformed notification", slog.Any("error", err))
		return fmt.Errorf("decode status change: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskOrderStatusChanged)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	key, ok := asynq.GetTaskID(ctx)
	if !ok {
		key = fmt.Sprintf("%d:%s:%d", change.OrderID, change.To, change.At.UnixNano())
	}
	n := composeNotification(change, j.now())
	n.DedupeKey = key

	created, err := j.Store.Save(ctx, n)
	if err != nil {
		j.logger().Error("save notification", slog.String("order_number", change.OrderNumber), slog.Any("error", err))
		return err
	}
	if !created {
		j.logger().Debug("notification already stored", slog.String("dedupe_key", key))
		return nil
	}
	j.logger().Info("order notification stored",
		slog.String("order_number", change.OrderNumber),
		slog.Int64("user_id", change.UserID),
		slog.String("status", string(change.To)))
	return nil
}

func composeNotification(c orders.StatusChange, now time.Time) Notification {
	n := Notification{UserID: c.UserID, OrderID: c.OrderID, CreatedAt: now}
	switch {
	case c.From == nil && c.Type == orders.TypeQuote:
		n.Subject = fmt.Sprintf("Quote request %s received", c.OrderNumber)
		n.Body = "We have received your quote request and will get back to you shortly."
	case c.From == nil:
		n.Subject = fmt.Sprintf("Order %s received", c.OrderNumber)
		n.Body = "Thank you for your order. We will let you know when it has been reviewed."
	default:
		n.Subject = fmt.Sprintf("Order %s is now %s", c.OrderNumber, humanStatus(c.To))
		n.Body = fmt.Sprintf("Your order moved from %s to %s.", humanStatus(*c.From), humanStatus(c.To))
		if c.Reason != "" {
			n.Body += " Reason: " + c.Reason
		}
	}
	return n
}

func humanStatus(s orders.Status) string {
	switch s {
	case orders.StatusInTransit:
		return "in transit"
	case orders.StatusOnHold:
		return "on hold"
	case orders.StatusQuoteRequested:
		return "quote requested"
	}
	return cases.Title(language.English).String(string(s))
}

func (j *OrderNotificationJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskOrderStatusChanged))
	}
	return slog.Default().With(slog.String("job", TaskOrderStatusChanged))
}

func (j *OrderNotificationJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *OrderNotificationJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// PGNotificationStore writes notifications into the notifications outbox.
type PGNotificationStore struct {
	pool *pgxpool.Pool
}

// NewPGNotificationStore constructs the store.
func NewPGNotificationStore(pool *pgxpool.Pool) *PGNotificationStore {
	return &PGNotificationStore{pool: pool}
}

// Save inserts n unless its dedupe key was already stored.
func (s *PGNotificationStore) Save(ctx context.Context, n Notification) (bool, error) {
	tag, err := s.pool.Exec(ctx, `INSERT INTO notifications (dedupe_key, user_id, order_id, subject, body, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (dedupe_key) DO NOTHING`, n.DedupeKey, n.UserID, n.OrderID, n.Subject, n.Body, n.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
