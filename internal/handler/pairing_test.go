package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pairdesk/qr-auth-server/internal/database"
	"github.com/pairdesk/qr-auth-server/internal/model"
	"github.com/pairdesk/qr-auth-server/internal/repository"
	"github.com/pairdesk/qr-auth-server/internal/service"
	"github.com/pairdesk/qr-auth-server/internal/token"
)

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) FindAll(ctx context.Context, limit, offset int) ([]model.User, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.User), args.Error(1)
}

func (m *mockUserRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) Update(ctx context.Context, id string, params model.UpdateUserParams) (*model.User, error) {
	args := m.Called(ctx, id, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type mockQRCodeRepo struct {
	mock.Mock
}

func (m *mockQRCodeRepo) CreateActive(ctx context.Context, userID string) (*model.QRCode, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.QRCode), args.Error(1)
}

func (m *mockQRCodeRepo) FindByID(ctx context.Context, id string) (*model.QRCode, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.QRCode), args.Error(1)
}

func (m *mockQRCodeRepo) MarkRedeemed(ctx context.Context, codeID, deviceID string) (*model.QRCode, error) {
	args := m.Called(ctx, codeID, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.QRCode), args.Error(1)
}

func (m *mockQRCodeRepo) DisableStale(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockQRCodeRepo) WithTx(tx *sqlx.Tx) repository.QRCodeRepository {
	return m
}

type mockDeviceRepo struct {
	mock.Mock
}

func (m *mockDeviceRepo) Register(ctx context.Context, userID, qrCodeID string, info model.DeviceInfo) (*model.ConnectedDevice, error) {
	args := m.Called(ctx, userID, qrCodeID, info)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ConnectedDevice), args.Error(1)
}

func (m *mockDeviceRepo) FindByUserID(ctx context.Context, userID string) ([]model.ConnectedDevice, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ConnectedDevice), args.Error(1)
}

func (m *mockDeviceRepo) WithTx(tx *sqlx.Tx) repository.DeviceRepository {
	return m
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type stubRenderer struct{}

func (stubRenderer) DataURL(payload string) (string, error) {
	return "data:image/png;base64,AAAA", nil
}

const testSecret = "test-secret-at-least-16-characters"

func passthroughAuth(next http.Handler) http.Handler {
	return next
}

func newTestCodec(t *testing.T) *token.Codec {
	t.Helper()
	codec, err := token.NewCodec(testSecret, 24*time.Hour, 2*time.Hour)
	require.NoError(t, err)
	return codec
}

type pairingFixture struct {
	userRepo   *mockUserRepo
	codeRepo   *mockQRCodeRepo
	deviceRepo *mockDeviceRepo
	codec      *token.Codec
	handler    *PairingHandler
}

func newPairingFixture(t *testing.T) *pairingFixture {
	t.Helper()
	f := &pairingFixture{
		userRepo:   new(mockUserRepo),
		codeRepo:   new(mockQRCodeRepo),
		deviceRepo: new(mockDeviceRepo),
		codec:      newTestCodec(t),
	}
	svc := service.NewPairingService(
		stubTxRunner{}, f.userRepo, f.codeRepo, f.deviceRepo,
		f.codec, stubRenderer{}, nil,
		24*time.Hour, zerolog.Nop(),
	)
	f.handler = NewPairingHandler(svc, nil, passthroughAuth)
	return f
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestGenerateHandler(t *testing.T) {
	t.Run("returns data image", func(t *testing.T) {
		f := newPairingFixture(t)
		f.userRepo.On("FindByID", mock.Anything, "user-1").Return(&model.User{ID: "user-1"}, nil)
		f.codeRepo.On("CreateActive", mock.Anything, "user-1").Return(&model.QRCode{
			ID:        "code-1",
			UserID:    "user-1",
			CreatedAt: time.Now(),
		}, nil)

		rec := postJSON(t, f.handler.Generate, map[string]string{"userId": "user-1"})

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "data:image/png;base64,AAAA", resp["dataImage"])
	})

	t.Run("missing userId is 400", func(t *testing.T) {
		f := newPairingFixture(t)

		rec := postJSON(t, f.handler.Generate, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown user is 404", func(t *testing.T) {
		f := newPairingFixture(t)
		f.userRepo.On("FindByID", mock.Anything, "ghost").Return(nil, nil)

		rec := postJSON(t, f.handler.Generate, map[string]string{"userId": "ghost"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid JSON is 400", func(t *testing.T) {
		f := newPairingFixture(t)

		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not-json")))
		rec := httptest.NewRecorder()
		f.handler.Generate(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestScanHandler(t *testing.T) {
	deviceInfo := map[string]string{
		"deviceName":    "phone1",
		"deviceModel":   "Pixel 9",
		"deviceOS":      "Android",
		"deviceVersion": "15",
	}

	t.Run("returns session token", func(t *testing.T) {
		f := newPairingFixture(t)

		pairingToken, err := f.codec.IssuePairing("user-1", "code-1")
		require.NoError(t, err)

		code := &model.QRCode{ID: "code-1", UserID: "user-1", CreatedAt: time.Now()}
		device := &model.ConnectedDevice{ID: "dev-1", UserID: "user-1", QRCodeID: "code-1", DeviceName: "phone1"}
		redeemed := *code
		redeemed.IsActive = true

		f.codeRepo.On("FindByID", mock.Anything, "code-1").Return(code, nil)
		f.deviceRepo.On("Register", mock.Anything, "user-1", "code-1", mock.Anything).Return(device, nil)
		f.codeRepo.On("MarkRedeemed", mock.Anything, "code-1", "dev-1").Return(&redeemed, nil)

		rec := postJSON(t, f.handler.Scan, map[string]any{
			"token":             pairingToken,
			"deviceInformation": deviceInfo,
		})

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

		subject, err := f.codec.VerifySession(resp["token"])
		require.NoError(t, err)
		assert.Equal(t, "user-1", subject)
	})

	t.Run("missing token is 400", func(t *testing.T) {
		f := newPairingFixture(t)

		rec := postJSON(t, f.handler.Scan, map[string]any{"deviceInformation": deviceInfo})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing device name is 400", func(t *testing.T) {
		f := newPairingFixture(t)

		rec := postJSON(t, f.handler.Scan, map[string]any{"token": "whatever"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("garbage token is 400", func(t *testing.T) {
		f := newPairingFixture(t)

		rec := postJSON(t, f.handler.Scan, map[string]any{
			"token":             "garbage-token",
			"deviceInformation": deviceInfo,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("replay is 409", func(t *testing.T) {
		f := newPairingFixture(t)

		pairingToken, err := f.codec.IssuePairing("user-1", "code-1")
		require.NoError(t, err)

		redeemed := &model.QRCode{ID: "code-1", UserID: "user-1", IsActive: true, CreatedAt: time.Now()}
		f.codeRepo.On("FindByID", mock.Anything, "code-1").Return(redeemed, nil)

		rec := postJSON(t, f.handler.Scan, map[string]any{
			"token":             pairingToken,
			"deviceInformation": deviceInfo,
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("superseded code is rejected", func(t *testing.T) {
		f := newPairingFixture(t)

		pairingToken, err := f.codec.IssuePairing("user-1", "code-1")
		require.NoError(t, err)

		// A later generate disabled this record; its token must not work.
		superseded := &model.QRCode{ID: "code-1", UserID: "user-1", Disabled: true, CreatedAt: time.Now()}
		f.codeRepo.On("FindByID", mock.Anything, "code-1").Return(superseded, nil)

		rec := postJSON(t, f.handler.Scan, map[string]any{
			"token":             pairingToken,
			"deviceInformation": deviceInfo,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing code record is 404", func(t *testing.T) {
		f := newPairingFixture(t)

		pairingToken, err := f.codec.IssuePairing("user-1", "code-1")
		require.NoError(t, err)

		f.codeRepo.On("FindByID", mock.Anything, "code-1").Return(nil, nil)

		rec := postJSON(t, f.handler.Scan, map[string]any{
			"token":             pairingToken,
			"deviceInformation": deviceInfo,
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
