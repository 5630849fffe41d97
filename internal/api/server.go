package api

import (
	"context"
	"errors"
	"time"

	"cubegift-bot/internal/metrics"
	"cubegift-bot/internal/models"
	"cubegift-bot/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config параметры HTTP API
type Config struct {
	BotToken       string
	InitDataMaxAge time.Duration
	DefaultAmount  int64
	AllowOrigins   string
}

// Server HTTP API для Mini App
type Server struct {
	app     *fiber.App
	issuer  *service.InvoiceIssuer
	ledger  service.Ledger
	config  Config
	metrics *metrics.Metrics
	log     *zap.Logger
}

// New собирает fiber-приложение с маршрутами
func New(issuer *service.InvoiceIssuer, ledger service.Ledger, config Config, m *metrics.Metrics, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	s := &Server{
		issuer:  issuer,
		ledger:  ledger,
		config:  config,
		metrics: m,
		log:     log,
	}

	app := fiber.New(fiber.Config{
		AppName:               "cubegift-bot",
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(log),
	})

	app.Use(fiberrecover.New())
	if config.AllowOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: config.AllowOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + initDataHeader,
		}))
	}

	app.Get("/health", s.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := app.Group("/api", TelegramAuth(config.BotToken, config.InitDataMaxAge, m, log))
	api.Post("/purchase", s.Purchase)
	api.Get("/balance", s.Balance)

	s.app = app
	return s
}

// App для тестов через app.Test
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen блокируется до Shutdown
func (s *Server) Listen(addr string) error {
	s.log.Info("🌐 api listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown останавливает сервер, дожидаясь активных запросов
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// Health проверка живости
func (s *Server) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

type purchaseResponse struct {
	Payload string `json:"payload"`
	Amount  int64  `json:"amount"`
}

type balanceResponse struct {
	UserID  int64 `json:"user_id"`
	Balance int64 `json:"balance"`
}

// Purchase выставляет счёт по сообщению Mini App
func (s *Server) Purchase(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	var msg models.WebAppMessage
	if err := c.BodyParser(&msg); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if msg.Type != models.WebAppTypePayment {
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	amount := s.config.DefaultAmount
	if msg.Amount != nil {
		amount = *msg.Amount
	}

	invoice, err := s.issuer.Issue(c.UserContext(), user.ID, amount)
	switch {
	case err == nil:
		return c.Status(fiber.StatusCreated).JSON(purchaseResponse{Payload: invoice.Payload, Amount: invoice.Amount})
	case errors.Is(err, service.ErrInvalidAmount):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":      "invalid amount",
			"min_amount": s.issuer.MinAmount(),
		})
	case errors.Is(err, service.ErrIssuance):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "invoice issuance failed"})
	default:
		return err
	}
}

// Balance баланс текущего пользователя
func (s *Server) Balance(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return fiber.ErrUnauthorized
	}

	balance, err := s.ledger.Balance(c.UserContext(), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(balanceResponse{UserID: user.ID, Balance: balance})
}
