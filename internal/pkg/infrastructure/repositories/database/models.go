package database

import (
	"time"
)

type Plant struct {
	ID          string `gorm:"primaryKey"`
	Name        string
	Status      string
	Capacity    float64
	LastUpdated time.Time
	CreatedAt   time.Time
}

type Device struct {
	SerialNumber   string  `gorm:"primaryKey;check:serial_number <> ''"`
	PlantID        *string `gorm:"index"`
	Plant          *Plant  `gorm:"foreignKey:PlantID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
	Alias          string
	Type           string
	Status         string `gorm:"index"`
	LastUpdateTime time.Time
	Synthetic      bool
	Power          float64
	EnergyToday    float64
	EnergyTotal    float64
	PVVoltage      float64 `gorm:"column:pv_voltage"`
	RawPayload     string  `gorm:"type:text"`
	LastUpdated    time.Time
	CreatedAt      time.Time
}

type EnergyRecord struct {
	ID           uint   `gorm:"primaryKey"`
	PlantID      string `gorm:"uniqueIndex:idx_energy_plant_device_date"`
	DeviceSerial string `gorm:"uniqueIndex:idx_energy_plant_device_date"`
	Date         string `gorm:"uniqueIndex:idx_energy_plant_device_date"`
	DailyEnergy  float64
	PeakPower    float64
	LastUpdated  time.Time
}

type NotificationHistory struct {
	ID               string    `gorm:"primaryKey"`
	DeviceSerial     string    `gorm:"index:idx_history_lookup"`
	NotificationType string    `gorm:"index:idx_history_lookup"`
	Channel          string    `gorm:"index:idx_history_lookup"`
	SentAt           time.Time `gorm:"index"`
	Success          bool
	Error            string
}

func (NotificationHistory) TableName() string {
	return "notification_history"
}

type ScheduledJob struct {
	ID          string `gorm:"primaryKey"`
	Kind        string
	Every       time.Duration
	Cron        string
	RunAt       time.Time
	Target      string
	Args        string `gorm:"type:text"`
	Description string
	Paused      bool
	UpdatedAt   time.Time
}
