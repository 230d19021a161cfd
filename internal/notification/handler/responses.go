package handler

import "beacon/internal/notification"

// RecentResponse is the polling payload.
type RecentResponse struct {
	Notifications []notification.Notification `json:"notifications"`
}

// ConnectionsResponse lists the live push connections.
type ConnectionsResponse struct {
	Connections []notification.ConnectionInfo `json:"connections"`
	Total       int                           `json:"total"`
}
