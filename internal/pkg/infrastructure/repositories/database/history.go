package database

import (
	"context"
	"errors"
	"time"

	"github.com/diwise/iot-fleet-sync/internal/pkg/application/notifications"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type historyRepository struct {
	db *gorm.DB
}

// NewHistoryRepository stores notification history in the notification_history table.
func NewHistoryRepository(db *gorm.DB) (notifications.HistoryRepository, error) {
	err := db.AutoMigrate(&NotificationHistory{})
	if err != nil {
		return nil, err
	}

	return &historyRepository{db: db}, nil
}

func (h *historyRepository) LastSuccessful(ctx context.Context, serial, notificationType, channel string) (time.Time, bool, error) {
	entry := NotificationHistory{}

	err := h.db.WithContext(ctx).
		Where("device_serial = ? AND notification_type = ? AND channel = ? AND success = ?", serial, notificationType, channel, true).
		Order("sent_at DESC").
		Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}

	return entry.SentAt, true, nil
}

func (h *historyRepository) Record(ctx context.Context, entry notifications.Entry) error {
	row := NotificationHistory{
		ID:               uuid.NewString(),
		DeviceSerial:     entry.DeviceSerial,
		NotificationType: entry.NotificationType,
		Channel:          entry.Channel,
		SentAt:           entry.SentAt,
		Success:          entry.Success,
		Error:            entry.Error,
	}

	return h.db.WithContext(ctx).Create(&row).Error
}

func (h *historyRepository) Entries(ctx context.Context, serial string) ([]notifications.Entry, error) {
	rows := []NotificationHistory{}

	err := h.db.WithContext(ctx).Where("device_serial = ?", serial).Order("sent_at").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]notifications.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, notifications.Entry{
			DeviceSerial:     r.DeviceSerial,
			NotificationType: r.NotificationType,
			Channel:          r.Channel,
			SentAt:           r.SentAt,
			Success:          r.Success,
			Error:            r.Error,
		})
	}

	return entries, nil
}
