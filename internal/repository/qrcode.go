package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/xid"

	"github.com/pairdesk/qr-auth-server/internal/database"
	apperrors "github.com/pairdesk/qr-auth-server/internal/errors"
	"github.com/pairdesk/qr-auth-server/internal/model"
)

// createActiveAttempts bounds the retry loop when two CreateActive calls for
// the same user race on the partial unique index.
const createActiveAttempts = 3

type QRCodeRepository interface {
	// CreateActive disables any previously non-disabled code for the user
	// and inserts a fresh pending code in one transaction. The qr_codes
	// table carries a partial unique index on (user_id) WHERE NOT disabled,
	// so two racing calls cannot both leave a pending row behind.
	CreateActive(ctx context.Context, userID string) (*model.QRCode, error)
	FindByID(ctx context.Context, id string) (*model.QRCode, error)
	// MarkRedeemed flips the pending code to redeemed in one conditional
	// update. Replays fail with ALREADY_REDEEMED, superseded codes with
	// CODE_DISABLED.
	MarkRedeemed(ctx context.Context, codeID, deviceID string) (*model.QRCode, error)
	// DisableStale disables pending codes created before the cutoff.
	// Rows are never deleted; superseded and redeemed codes are kept for audit.
	DisableStale(ctx context.Context, cutoff time.Time) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) QRCodeRepository
}

type qrCodeRepo struct {
	db *sqlx.DB
	q  sqlxDB
}

func NewQRCodeRepository(db *sqlx.DB) QRCodeRepository {
	return &qrCodeRepo{db: db, q: db}
}

func (r *qrCodeRepo) WithTx(tx *sqlx.Tx) QRCodeRepository {
	return &qrCodeRepo{db: r.db, q: tx}
}

func (r *qrCodeRepo) CreateActive(ctx context.Context, userID string) (*model.QRCode, error) {
	var created model.QRCode

	for attempt := 0; attempt < createActiveAttempts; attempt++ {
		err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, `
				UPDATE qr_codes SET disabled = TRUE
				WHERE user_id = $1 AND disabled = FALSE
			`, userID); err != nil {
				return err
			}

			return tx.GetContext(ctx, &created, `
				INSERT INTO qr_codes (id, user_id, disabled, is_active)
				VALUES ($1, $2, FALSE, FALSE)
				RETURNING *
			`, xid.New().String(), userID)
		})
		if err == nil {
			return &created, nil
		}
		// A concurrent CreateActive for the same user inserted between our
		// disable and insert. Re-run the transaction so the newest call wins.
		if IsUniqueViolation(err) {
			continue
		}
		return nil, err
	}

	return nil, apperrors.New(apperrors.ErrCodeConflict, "Could not supersede active pairing code")
}

func (r *qrCodeRepo) FindByID(ctx context.Context, id string) (*model.QRCode, error) {
	var code model.QRCode
	err := r.q.GetContext(ctx, &code, `
		SELECT * FROM qr_codes WHERE id = $1
	`, id)
	return HandleNotFound(&code, err)
}

func (r *qrCodeRepo) MarkRedeemed(ctx context.Context, codeID, deviceID string) (*model.QRCode, error) {
	var code model.QRCode
	err := r.q.GetContext(ctx, &code, `
		UPDATE qr_codes SET
			is_active = TRUE,
			connected_device_id = $2,
			last_used_at = $3
		WHERE id = $1 AND is_active = FALSE AND disabled = FALSE
		RETURNING *
	`, codeID, deviceID, time.Now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.classifyRedeemMiss(ctx, codeID)
	}
	if err != nil {
		return nil, err
	}
	return &code, nil
}

// classifyRedeemMiss turns a failed conditional update into the error the
// caller can act on. The row snapshot taken here is only for reporting; the
// update above is the sole authority on who redeemed first.
func (r *qrCodeRepo) classifyRedeemMiss(ctx context.Context, codeID string) error {
	existing, err := r.FindByID(ctx, codeID)
	if err != nil {
		return err
	}
	switch {
	case existing == nil:
		return apperrors.NotFound("Pairing code")
	case existing.IsActive:
		return apperrors.AlreadyRedeemed()
	default:
		return apperrors.CodeDisabled()
	}
}

func (r *qrCodeRepo) DisableStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx, `
		UPDATE qr_codes SET disabled = TRUE
		WHERE disabled = FALSE AND is_active = FALSE AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
