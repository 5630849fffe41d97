package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"cubegift-bot/internal/models"
	"cubegift-bot/internal/service"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// Settings параметры интерфейса бота
type Settings struct {
	WebAppURL     string
	DefaultAmount int64
	AdminIDs      []int64
}

// Handler обработчики бота
type Handler struct {
	issuer    *service.InvoiceIssuer
	callbacks *service.CallbackHandler
	ledger    service.Ledger
	sweeper   *service.Sweeper
	settings  Settings
	log       *zap.Logger
}

// New создаёт новый handler
func New(issuer *service.InvoiceIssuer, callbacks *service.CallbackHandler, ledger service.Ledger, settings Settings, log *zap.Logger) *Handler {
	return &Handler{
		issuer:    issuer,
		callbacks: callbacks,
		ledger:    ledger,
		settings:  settings,
		log:       log,
	}
}

// Register регистрирует все обработчики
func (h *Handler) Register(b *tele.Bot) {
	// Commands
	b.Handle("/start", h.HandleStart)
	b.Handle("/balance", h.HandleBalance)
	b.Handle("/buy", h.HandleBuy)

	// Callbacks
	b.Handle(&tele.Btn{Unique: "balance"}, h.HandleBalanceButton)

	// Payments
	b.Handle(tele.OnCheckout, h.HandlePreCheckout)
	b.Handle(tele.OnPayment, h.HandleSuccessfulPayment)

	// Mini App
	b.Handle(tele.OnWebApp, h.HandleWebAppData)

	b.Handle(tele.OnText, h.HandleText)
}

// ================= MAIN MENU =================

// HandleStart приветствие с кнопкой Mini App
func (h *Handler) HandleStart(c tele.Context) error {
	text := fmt.Sprintf(`<b>🎲 CubeGift</b>

Привет, %s! 👋

<b>Твоя игровая платформа с призами</b> 🎁

• Играй и выигрывай крутые подарки
• Пополняй баланс Telegram Stars
• Мгновенные выплаты и безопасность

<b>Нажми кнопку ниже чтобы начать! 👇</b>`, mention(c.Sender()))

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.WebApp("🎁 Играть и выигрывать!", &tele.WebApp{URL: h.settings.WebAppURL})),
		menu.Row(menu.Data("💰 Мой баланс", "balance")),
	)

	return c.Send(text, menu, tele.ModeHTML)
}

// ================= BALANCE =================

// HandleBalance показывает баланс пользователя
func (h *Handler) HandleBalance(c tele.Context) error {
	balance, err := h.ledger.Balance(context.Background(), c.Sender().ID)
	if err != nil {
		h.log.Error("failed to read balance", zap.Int64("user_id", c.Sender().ID), zap.Error(err))
		return c.Send("❌ Ошибка загрузки баланса")
	}

	text := fmt.Sprintf(`💰 <b>Ваш баланс:</b> %d единиц

Для пополнения используйте Mini App или команду /buy <i>количество</i>`, balance)

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.WebApp("💰 Пополнить баланс", &tele.WebApp{URL: h.settings.WebAppURL})),
		menu.Row(menu.WebApp("🎮 Открыть игру", &tele.WebApp{URL: h.settings.WebAppURL})),
	)

	return c.Send(text, menu, tele.ModeHTML)
}

// HandleBalanceButton баланс по inline кнопке
func (h *Handler) HandleBalanceButton(c tele.Context) error {
	_ = c.Respond()

	balance, err := h.ledger.Balance(context.Background(), c.Sender().ID)
	if err != nil {
		h.log.Error("failed to read balance", zap.Int64("user_id", c.Sender().ID), zap.Error(err))
		return c.Send("❌ Ошибка загрузки баланса")
	}
	return c.Edit(fmt.Sprintf("💰 Ваш баланс: %d единиц", balance))
}

// ================= PURCHASE =================

// HandleBuy обрабатывает /buy [количество]
func (h *Handler) HandleBuy(c tele.Context) error {
	amount := h.settings.DefaultAmount
	if args := c.Args(); len(args) > 0 {
		if n, err := strconv.ParseInt(args[0], 10, 64); err == nil && n >= 0 {
			amount = n
		}
	}
	return h.purchase(c, amount)
}

func (h *Handler) purchase(c tele.Context, amount int64) error {
	userID := c.Sender().ID

	_, err := h.issuer.Issue(context.Background(), userID, amount)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrInvalidAmount):
		return c.Send(fmt.Sprintf("❌ Минимальная сумма пополнения: %d единиц", h.issuer.MinAmount()))
	default:
		return c.Send("❌ Ошибка создания счета. Попробуйте позже.")
	}
}

// HandleWebAppData обрабатывает данные, отправленные из Mini App
func (h *Handler) HandleWebAppData(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.WebAppData == nil {
		return nil
	}

	var data models.WebAppMessage
	if err := json.Unmarshal([]byte(msg.WebAppData.Data), &data); err != nil {
		h.log.Warn("invalid web app data",
			zap.Int64("user_id", c.Sender().ID),
			zap.Error(err),
		)
		return c.Send("❌ Ошибка обработки данных")
	}

	h.log.Info("web app data received",
		zap.Int64("user_id", c.Sender().ID),
		zap.String("type", data.Type),
	)

	switch data.Type {
	case models.WebAppTypePayment:
		amount := h.settings.DefaultAmount
		if data.Amount != nil {
			amount = *data.Amount
		}
		return h.purchase(c, amount)
	case models.WebAppTypeBalanceRequest:
		return h.HandleBalance(c)
	default:
		return c.Send("🎉 Данные получены! Обрабатываем вашу операцию...")
	}
}

// ================= PAYMENTS =================

// HandlePreCheckout отвечает на pre_checkout_query
func (h *Handler) HandlePreCheckout(c tele.Context) error {
	q := c.PreCheckoutQuery()
	if q == nil {
		return nil
	}

	query := models.PreCheckout{
		QueryID:  q.ID,
		Payload:  q.Payload,
		Currency: q.Currency,
		Total:    int64(q.Total),
	}
	if q.Sender != nil {
		query.UserID = q.Sender.ID
	}

	if h.callbacks.OnPreCheckout(context.Background(), query) {
		return c.Accept()
	}
	return c.Accept("Счёт устарел или недействителен. Запросите новый счёт.")
}

// HandleSuccessfulPayment зачисляет оплаченный счёт
func (h *Handler) HandleSuccessfulPayment(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Payment == nil {
		return nil
	}
	payment := msg.Payment

	result, err := h.callbacks.OnSuccessfulPayment(context.Background(), models.SuccessfulPayment{
		UserID:   c.Sender().ID,
		Payload:  payment.Payload,
		ChargeID: payment.TelegramChargeID,
		Currency: payment.Currency,
		Total:    int64(payment.Total),
	})

	switch {
	case err == nil:
		return c.Send(fmt.Sprintf(`🎉 <b>Платеж успешен!</b>

Ваш баланс пополнен на <b>%d</b> единиц
ID транзакции: <code>%s</code>

Текущий баланс: <b>%d</b> единиц

Возвращайтесь в игру чтобы использовать свои средства! 🎮`,
			result.Amount, html.EscapeString(result.ChargeID), result.Balance), tele.ModeHTML)
	case errors.Is(err, service.ErrLedgerFault):
		return c.Send(fmt.Sprintf(`⏳ <b>Платеж получен</b>

Зачисление задерживается, платёж сохранён и будет зачислен повторно.
ID транзакции: <code>%s</code>`, html.EscapeString(payment.TelegramChargeID)), tele.ModeHTML)
	default:
		return c.Send("❌ Ошибка верификации платежа")
	}
}

// ================= TEXT =================

var (
	greetingWords = []string{"привет", "hello", "hi", "start", "игра", "game"}
	balanceWords  = []string{"баланс", "balance", "деньги", "money", "stars"}
)

// HandleText отвечает на произвольный текст по ключевым словам
func (h *Handler) HandleText(c tele.Context) error {
	text := strings.ToLower(c.Text())

	menu := &tele.ReplyMarkup{}
	menu.Inline(
		menu.Row(menu.WebApp("🎁 Играть и выигрывать!", &tele.WebApp{URL: h.settings.WebAppURL})),
	)

	switch {
	case containsAny(text, greetingWords):
		return c.Send(`🎲 <b>CubeGift</b>

Привет! Готов выигрывать подарки? 🎁

Пополняй баланс Telegram Stars и начинай играть!

Жми на кнопку ниже 👇`, menu, tele.ModeHTML)
	case containsAny(text, balanceWords):
		return h.HandleBalance(c)
	default:
		return c.Send(`🎲 <b>CubeGift</b>

Не понял тебя... 😕

Хочешь выиграть крутые подарки? 🎁
Пополняй баланс Stars и начинай играть! 👇`, menu, tele.ModeHTML)
	}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func mention(u *tele.User) string {
	if u == nil {
		return "друг"
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, u.ID, html.EscapeString(name))
}
