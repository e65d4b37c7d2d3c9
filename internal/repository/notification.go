package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

// NotificationRepository writes in-app notifications and the per-channel
// delivery logs.
type NotificationRepository struct {
	db *pgxpool.Pool
}

// NewNotificationRepository constructs a NotificationRepository.
func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// SaveInApp inserts an in-app notification.
func (r *NotificationRepository) SaveInApp(ctx context.Context, n *model.InAppNotification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO notifications
		   (id, notification_id, user_id, kind, title, message, type, category, action_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, n.NotificationID, n.AccountID, n.Kind, n.Title, n.Message, n.Type, n.Category,
		nullable(n.ActionURL), n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// LogDelivery appends the audit row of an email or SMS attempt. In-app
// attempts are audited by the notifications row itself.
func (r *NotificationRepository) LogDelivery(ctx context.Context, rec *model.NotificationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	var err error
	switch rec.Channel {
	case model.ChannelEmail:
		_, err = r.db.Exec(ctx,
			`INSERT INTO email_logs
			   (id, notification_id, user_id, recipient_email, subject, content, template_used, status, message_id, error_message, sent_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			rec.ID, rec.NotificationID, rec.AccountID, rec.Destination, rec.Subject, rec.Body,
			rec.Kind, rec.Status, nullable(rec.MessageID), nullable(rec.Error), rec.CreatedAt,
		)
	case model.ChannelSMS:
		_, err = r.db.Exec(ctx,
			`INSERT INTO sms_logs
			   (id, notification_id, user_id, recipient_phone, message, template_used, status, error_message, cost, sent_at, delivered_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			rec.ID, rec.NotificationID, rec.AccountID, rec.Destination, rec.Body,
			rec.Kind, rec.Status, nullable(rec.Error), rec.Cost, rec.CreatedAt, rec.DeliveredAt,
		)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert %s log: %w", rec.Channel, err)
	}
	return nil
}
