package handlers

import (
	"context"
	"fmt"
	"strconv"

	"cubegift-bot/internal/service"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// AdminMiddleware проверяет, является ли пользователь администратором
func (h *Handler) AdminMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if c.Sender() != nil && h.isAdmin(c.Sender().ID) {
				return next(c)
			}
			return c.Send("❌ Доступ запрещён. Эта команда доступна только администраторам.")
		}
	}
}

// isAdmin проверяет, является ли пользователь администратором
func (h *Handler) isAdmin(userID int64) bool {
	for _, adminID := range h.settings.AdminIDs {
		if userID == adminID {
			return true
		}
	}
	return false
}

// RegisterAdmin регистрирует админ-обработчики
func (h *Handler) RegisterAdmin(b *tele.Bot, sweeper *service.Sweeper) {
	h.sweeper = sweeper

	adminGroup := b.Group()
	adminGroup.Use(h.AdminMiddleware())

	adminGroup.Handle("/admin", h.HandleAdmin)
	adminGroup.Handle("/find", h.HandleFindUser)
	adminGroup.Handle("/sweep", h.HandleSweep)
	adminGroup.Handle("/recover", h.HandleRecover)

	adminGroup.Handle(&tele.Btn{Unique: "admin_sweep"}, h.HandleSweep)
	adminGroup.Handle(&tele.Btn{Unique: "admin_recover"}, h.HandleRecover)
}

// HandleAdmin показывает панель оператора
func (h *Handler) HandleAdmin(c tele.Context) error {
	text := `👮‍♂️ *Панель CubeGift*

/find <id> - баланс пользователя
/sweep - удалить просроченные счета
/recover - дозачислить платежи из журнала`

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(
			menu.Data("🧹 Очистка", "admin_sweep"),
			menu.Data("♻️ Журнал", "admin_recover"),
		),
	)

	return c.Send(text, menu, tele.ModeMarkdown)
}

// HandleFindUser показывает баланс пользователя по ID
func (h *Handler) HandleFindUser(c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Send("Использование: /find <telegram_id>")
	}

	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send("❌ Некорректный ID")
	}

	balance, err := h.ledger.Balance(context.Background(), userID)
	if err != nil {
		h.log.Error("admin balance lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		return c.Send("❌ Ошибка загрузки баланса")
	}

	return c.Send(fmt.Sprintf("👤 `%d`\n💰 Баланс: *%d* единиц", userID, balance), tele.ModeMarkdown)
}

// HandleSweep запускает внеочередную очистку просроченных счетов
func (h *Handler) HandleSweep(c tele.Context) error {
	if c.Callback() != nil {
		_ = c.Respond()
	}
	if h.sweeper == nil {
		return c.Send("❌ Очистка не настроена")
	}

	removed := h.sweeper.SweepOnce(context.Background())
	return c.Send(fmt.Sprintf("🧹 Удалено просроченных счетов: %d", removed))
}

// HandleRecover дозачисляет платежи, оставшиеся незачисленными в журнале
func (h *Handler) HandleRecover(c tele.Context) error {
	if c.Callback() != nil {
		_ = c.Respond()
	}

	recovered, err := h.callbacks.Recover(context.Background())
	if err != nil {
		h.log.Error("manual recovery failed", zap.Int("recovered", recovered), zap.Error(err))
		return c.Send(fmt.Sprintf("⚠️ Зачислено %d, затем ошибка: %v", recovered, err))
	}
	return c.Send(fmt.Sprintf("♻️ Дозачислено платежей: %d", recovered))
}
