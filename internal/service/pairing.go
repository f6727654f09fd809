package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/pairdesk/qr-auth-server/internal/audit"
	"github.com/pairdesk/qr-auth-server/internal/database"
	apperrors "github.com/pairdesk/qr-auth-server/internal/errors"
	"github.com/pairdesk/qr-auth-server/internal/model"
	"github.com/pairdesk/qr-auth-server/internal/repository"
	"github.com/pairdesk/qr-auth-server/internal/sse"
)

// TokenCodec issues and verifies the signed tokens the pairing flow exchanges.
// A pairing token is bound to the code record it was minted for; VerifyPairing
// returns both the user ID and that code ID.
type TokenCodec interface {
	IssuePairing(userID, codeID string) (string, error)
	IssueSession(userID string) (string, error)
	VerifyPairing(token string) (userID, codeID string, err error)
	VerifySession(token string) (string, error)
}

// TxRunner runs a function inside a database transaction. Satisfied by
// *database.DB.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// Renderer turns a pairing token into something a camera can scan.
type Renderer interface {
	DataURL(payload string) (string, error)
}

// EventPublisher notifies listeners that a pairing completed. May be nil.
type EventPublisher interface {
	Publish(ctx context.Context, userID string, event sse.Event) error
}

type GenerateResult struct {
	DataImage string    `json:"dataImage"`
	QRCodeID  string    `json:"qrCodeId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type RedeemResult struct {
	SessionToken string                 `json:"token"`
	Device       *model.ConnectedDevice `json:"device"`
}

type redeemedEvent struct {
	QRCodeID   string `json:"qrCodeId"`
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

type PairingService struct {
	db         TxRunner
	userRepo   repository.UserRepository
	codeRepo   repository.QRCodeRepository
	deviceRepo repository.DeviceRepository
	codec      TokenCodec
	renderer   Renderer
	publisher  EventPublisher
	pairingTTL time.Duration
	log        zerolog.Logger
}

func NewPairingService(
	db TxRunner,
	userRepo repository.UserRepository,
	codeRepo repository.QRCodeRepository,
	deviceRepo repository.DeviceRepository,
	codec TokenCodec,
	renderer Renderer,
	publisher EventPublisher,
	pairingTTL time.Duration,
	logger zerolog.Logger,
) *PairingService {
	return &PairingService{
		db:         db,
		userRepo:   userRepo,
		codeRepo:   codeRepo,
		deviceRepo: deviceRepo,
		codec:      codec,
		renderer:   renderer,
		publisher:  publisher,
		pairingTTL: pairingTTL,
		log:        logger,
	}
}

// GenerateCode supersedes any pending code for the user, records a fresh one
// and returns the pairing token rendered as a QR image.
func (s *PairingService) GenerateCode(ctx context.Context, userID string) (*GenerateResult, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}
	if user == nil {
		return nil, apperrors.NotFound("User")
	}

	code, err := s.codeRepo.CreateActive(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}

	pairingToken, err := s.codec.IssuePairing(userID, code.ID)
	if err != nil {
		return nil, apperrors.Internal("Could not issue pairing token").WithCause(err)
	}

	dataImage, err := s.renderer.DataURL(pairingToken)
	if err != nil {
		return nil, apperrors.Internal("Could not render pairing code").WithCause(err)
	}

	s.log.Info().
		Str("userId", userID).
		Str("qrCodeId", code.ID).
		Msg("pairing code generated")

	audit.Log(ctx, audit.Event{
		Type:     audit.EventCodeGenerate,
		UserID:   userID,
		QRCodeID: code.ID,
	})

	return &GenerateResult{
		DataImage: dataImage,
		QRCodeID:  code.ID,
		ExpiresAt: code.CreatedAt.Add(s.pairingTTL),
	}, nil
}

// RedeemCode verifies a scanned pairing token, binds the presenting device to
// the user and issues a session token. A given code is redeemed exactly once:
// replays fail with ALREADY_REDEEMED and no second session is issued.
func (s *PairingService) RedeemCode(ctx context.Context, pairingToken string, info model.DeviceInfo) (*RedeemResult, error) {
	userID, codeID, err := s.codec.VerifyPairing(pairingToken)
	if err != nil {
		return nil, err
	}

	// The token names the exact record it was minted for. A regenerate
	// since then leaves that record disabled, and the old token must not
	// redeem its successor.
	code, err := s.codeRepo.FindByID(ctx, codeID)
	if err != nil {
		return nil, storeError(err)
	}
	if code == nil || code.UserID != userID {
		return nil, apperrors.NotFound("Pairing code")
	}
	if code.IsActive {
		s.logReplay(ctx, userID, code.ID)
		return nil, apperrors.AlreadyRedeemed()
	}
	if code.Disabled {
		return nil, apperrors.CodeDisabled()
	}
	// The record's own age bounds redemption even if the token's expiry
	// claim would still pass.
	if time.Since(code.CreatedAt) > s.pairingTTL {
		return nil, apperrors.TokenExpired()
	}

	var (
		device   *model.ConnectedDevice
		redeemed *model.QRCode
	)
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		device, err = s.deviceRepo.WithTx(tx).Register(ctx, userID, code.ID, info)
		if err != nil {
			return err
		}
		redeemed, err = s.codeRepo.WithTx(tx).MarkRedeemed(ctx, code.ID, device.ID)
		return err
	})
	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeAlreadyRedeemed {
			s.logReplay(ctx, userID, code.ID)
		}
		return nil, storeError(err)
	}

	sessionToken, err := s.codec.IssueSession(userID)
	if err != nil {
		return nil, apperrors.Internal("Could not issue session token").WithCause(err)
	}

	s.log.Info().
		Str("userId", userID).
		Str("qrCodeId", redeemed.ID).
		Str("deviceId", device.ID).
		Str("deviceName", device.DeviceName).
		Msg("pairing code redeemed")

	audit.Log(ctx, audit.Event{
		Type:     audit.EventCodeRedeem,
		UserID:   userID,
		QRCodeID: redeemed.ID,
		DeviceID: device.ID,
	})

	s.publishRedeemed(ctx, userID, redeemed.ID, device)

	return &RedeemResult{
		SessionToken: sessionToken,
		Device:       device,
	}, nil
}

// ListDevices returns the devices that have redeemed codes for the user.
func (s *PairingService) ListDevices(ctx context.Context, userID string) ([]model.ConnectedDevice, error) {
	devices, err := s.deviceRepo.FindByUserID(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}
	return devices, nil
}

func (s *PairingService) publishRedeemed(ctx context.Context, userID, codeID string, device *model.ConnectedDevice) {
	if s.publisher == nil {
		return
	}

	data, err := json.Marshal(redeemedEvent{
		QRCodeID:   codeID,
		DeviceID:   device.ID,
		DeviceName: device.DeviceName,
	})
	if err != nil {
		return
	}

	if err := s.publisher.Publish(ctx, userID, sse.Event{
		Type: sse.EventPairingRedeemed,
		Data: data,
	}); err != nil {
		// Delivery is best effort; the redemption itself already committed.
		s.log.Warn().Err(err).Str("userId", userID).Msg("failed to publish pairing event")
	}
}

func (s *PairingService) logReplay(ctx context.Context, userID, codeID string) {
	s.log.Warn().
		Str("userId", userID).
		Str("qrCodeId", codeID).
		Msg("replay of redeemed pairing code rejected")

	audit.Log(ctx, audit.Event{
		Type:     audit.EventRedeemReplay,
		UserID:   userID,
		QRCodeID: codeID,
	})
}

// storeError keeps AppErrors intact and folds raw storage failures into the
// database/transient taxonomy so internals never leak to callers.
func storeError(err error) error {
	if apperrors.IsAppError(err) {
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return apperrors.StoreUnavailable(err)
	}
	return apperrors.Database(err)
}
