package model

import (
	"time"
)

// QRCode is one issued pairing attempt. For each user at most one row has
// disabled = FALSE; a newer GenerateCode supersedes the older row.
type QRCode struct {
	ID                string     `db:"id" json:"id"`
	UserID            string     `db:"user_id" json:"userId"`
	Disabled          bool       `db:"disabled" json:"disabled"`
	IsActive          bool       `db:"is_active" json:"isActive"`
	ConnectedDeviceID *string    `db:"connected_device_id" json:"connectedDeviceId,omitempty"`
	LastUsedAt        *time.Time `db:"last_used_at" json:"lastUsedAt,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"createdAt"`
}

// Pending reports whether the code can still be redeemed.
func (q *QRCode) Pending() bool {
	return !q.Disabled && !q.IsActive
}
