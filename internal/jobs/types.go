package jobs

import "time"

// EventKind は認証イベントの種別を表します。
type EventKind string

const (
	EventRegistered  EventKind = "registered"
	EventLogin       EventKind = "login"
	EventLoginFailed EventKind = "login_failed"
	EventLogout      EventKind = "logout"
)

// Event はユーザーの認証アクティビティ1件を表します。
type Event struct {
	ID         string    `json:"id"`
	Kind       EventKind `json:"kind"`
	UserID     int64     `json:"userId"`
	Username   string    `json:"username"`
	ClientIP   string    `json:"clientIp,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
