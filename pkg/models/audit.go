package models

import "time"

// AuditEntry records a single request event.
type AuditEntry struct {
	ID             int64          `json:"id"`
	RequestID      string         `json:"requestId"`
	Timestamp      time.Time      `json:"timestamp"`
	Username       string         `json:"username,omitempty"`
	Operation      string         `json:"operation"`
	Path           string         `json:"path"`
	Status         string         `json:"status"`
	ResponseCode   int            `json:"responseCode"`
	ResponseTimeMs int64          `json:"responseTimeMs"`
	ClientIP       string         `json:"clientIp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
