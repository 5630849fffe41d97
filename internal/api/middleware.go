package api

import (
	"errors"
	"strings"
	"time"

	"cubegift-bot/internal/metrics"
	"cubegift-bot/internal/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	initDataHeader = "X-Telegram-Init-Data"
	authScheme     = "tma "
	userLocal      = "tg_user"
)

// TelegramAuth проверяет init data Mini App и кладёт пользователя в Locals
func TelegramAuth(botToken string, maxAge time.Duration, m *metrics.Metrics, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get(initDataHeader)
		if raw == "" {
			if auth := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(auth, authScheme) {
				raw = strings.TrimPrefix(auth, authScheme)
			}
		}

		data, err := service.ParseInitData(raw, botToken, maxAge, time.Now())
		if err != nil {
			m.AuthFailures.Inc()
			log.Warn("init data rejected",
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
				zap.Error(err),
			)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		c.Locals(userLocal, data.User)
		return c.Next()
	}
}

func currentUser(c *fiber.Ctx) (service.InitDataUser, bool) {
	user, ok := c.Locals(userLocal).(service.InitDataUser)
	return user, ok
}

// ErrorHandler отдаёт ошибки в JSON
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}

		log.Error("unhandled api error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
