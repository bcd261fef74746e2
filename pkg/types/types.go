package types

import (
	"time"
)

type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Trigger     string     `json:"trigger"`
	Target      string     `json:"target"`
	Description string     `json:"description,omitempty"`
	NextRun     *time.Time `json:"nextRun,omitempty"`
	Paused      bool       `json:"paused"`
	Running     bool       `json:"running"`
	LastRun     *time.Time `json:"lastRun,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

type JobRun struct {
	JobID      string         `json:"jobID"`
	RunID      string         `json:"runID"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Summary    map[string]int `json:"summary"`
	Error      string         `json:"error,omitempty"`
}

type NotificationRequest struct {
	SerialNumber string   `json:"serialNumber"`
	Type         string   `json:"type,omitempty"`
	Channels     []string `json:"channels,omitempty"`
}

type ChannelResult struct {
	Channel string `json:"channel"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

type NotificationReport struct {
	SerialNumber string          `json:"serialNumber"`
	Type         string          `json:"type"`
	Results      []ChannelResult `json:"results"`
}
