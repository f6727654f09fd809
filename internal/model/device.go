package model

import (
	"time"
)

type ConnectedDevice struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"userId"`
	QRCodeID      string    `db:"qr_code_id" json:"qrCodeId"`
	DeviceName    string    `db:"device_name" json:"deviceName"`
	DeviceModel   string    `db:"device_model" json:"deviceModel"`
	DeviceOS      string    `db:"device_os" json:"deviceOS"`
	DeviceVersion string    `db:"device_version" json:"deviceVersion"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

type DeviceInfo struct {
	DeviceName    string `json:"deviceName"`
	DeviceModel   string `json:"deviceModel"`
	DeviceOS      string `json:"deviceOS"`
	DeviceVersion string `json:"deviceVersion"`
}
