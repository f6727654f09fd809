package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/rs/xid"

	"github.com/pairdesk/qr-auth-server/internal/model"
)

type DeviceRepository interface {
	// Register inserts a device record bound to the code it redeemed.
	// There is no uniqueness constraint on device identity: a device that
	// redeems several codes over time produces several records.
	Register(ctx context.Context, userID, qrCodeID string, info model.DeviceInfo) (*model.ConnectedDevice, error)
	FindByUserID(ctx context.Context, userID string) ([]model.ConnectedDevice, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) DeviceRepository
}

type deviceRepo struct {
	db sqlxDB
}

func NewDeviceRepository(db *sqlx.DB) DeviceRepository {
	return &deviceRepo{db: db}
}

func (r *deviceRepo) WithTx(tx *sqlx.Tx) DeviceRepository {
	return &deviceRepo{db: tx}
}

func (r *deviceRepo) Register(ctx context.Context, userID, qrCodeID string, info model.DeviceInfo) (*model.ConnectedDevice, error) {
	var device model.ConnectedDevice
	err := r.db.GetContext(ctx, &device, `
		INSERT INTO connected_devices (id, user_id, qr_code_id, device_name, device_model, device_os, device_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, xid.New().String(), userID, qrCodeID, info.DeviceName, info.DeviceModel, info.DeviceOS, info.DeviceVersion)
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepo) FindByUserID(ctx context.Context, userID string) ([]model.ConnectedDevice, error) {
	var devices []model.ConnectedDevice
	err := r.db.SelectContext(ctx, &devices, `
		SELECT * FROM connected_devices
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return devices, nil
}
