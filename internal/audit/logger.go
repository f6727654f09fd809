package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventRegister     EventType = "register"
	EventLoginSuccess EventType = "login_success"
	EventLoginFailure EventType = "login_failure"
	EventUserDelete   EventType = "user_delete"
	EventCodeGenerate EventType = "code_generate"
	EventCodeRedeem   EventType = "code_redeem"
	EventRedeemReplay EventType = "code_redeem_replay"
)

type Event struct {
	Type     EventType
	UserID   string
	QRCodeID string
	DeviceID string
	IP       string
	Details  map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.UserID != "" {
		logger = logger.With().Str("user_id", event.UserID).Logger()
	}
	if event.QRCodeID != "" {
		logger = logger.With().Str("qr_code_id", event.QRCodeID).Logger()
	}
	if event.DeviceID != "" {
		logger = logger.With().Str("device_id", event.DeviceID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}
