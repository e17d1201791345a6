package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"convenio-service/internal/payment"
	"convenio-service/internal/response"
	"convenio-service/internal/types"
)

var validatorInstance = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(types.JSONFieldName)
	return v
}

// Backend forwards a request to the TCP validation server.
type Backend interface {
	Validate(ctx context.Context, req *types.ValidationRequest) (*types.Reply, error)
}

// Handlers is the REST front of the validation server.
type Handlers struct {
	Backend     Backend
	BackendAddr string
	Logger      *zap.Logger
}

type validateBody struct {
	AgendamentoID int64   `json:"agendamento_id" validate:"required,gt=0"`
	PacienteID    int64   `json:"paciente_id" validate:"required,gt=0"`
	TipoPagamento string  `json:"tipo_pagamento" validate:"required,oneof=CONVENIO PARTICULAR"`
	ConvenioNome  *string `json:"convenio_nome" validate:"required_if=TipoPagamento CONVENIO"`
	NumeroCartao  string  `json:"numero_cartao" validate:"required_if=TipoPagamento PARTICULAR"`
	CartaoNumero  string  `json:"cartao_numero"`
}

// normalize upper-cases the payment type and keeps only the digits of the
// card number, accepting either spelling of the card field.
func (b *validateBody) normalize() {
	b.TipoPagamento = strings.ToUpper(strings.TrimSpace(b.TipoPagamento))
	card := b.NumeroCartao
	if card == "" {
		card = b.CartaoNumero
	}
	b.NumeroCartao = strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, card)
}

func (b *validateBody) request() *types.ValidationRequest {
	action := string(types.ActionValidatePayment)
	req := &types.ValidationRequest{
		Action:        &action,
		AgendamentoID: &b.AgendamentoID,
		PacienteID:    &b.PacienteID,
		TipoPagamento: &b.TipoPagamento,
	}
	switch payment.Type(b.TipoPagamento) {
	case payment.Convenio:
		req.ConvenioNome = b.ConvenioNome
	case payment.Particular:
		req.NumeroCartao = &b.NumeroCartao
	}
	return req
}

// ValidatePaymentHandler checks the body, forwards it to the backend and
// relays the backend answer.
func (h *Handlers) ValidatePaymentHandler(c *fiber.Ctx) error {
	body := new(validateBody)
	if err := sonic.Unmarshal(c.Body(), body); err != nil {
		return c.Status(http.StatusBadRequest).JSON(response.Failure("invalid JSON"))
	}
	body.normalize()
	if err := validatorInstance.Struct(body); err != nil {
		return c.Status(http.StatusBadRequest).JSON(response.Failure(describe(err)))
	}
	if payment.Type(body.TipoPagamento) == payment.Particular && (len(body.NumeroCartao) < 13 || len(body.NumeroCartao) > 19) {
		return c.Status(http.StatusBadRequest).JSON(response.Failure(types.ErrInvalidCard.Error()))
	}

	req := body.request()
	h.logger().Info("forwarding to backend",
		zap.Int64("agendamento_id", body.AgendamentoID),
		zap.String("tipo_pagamento", body.TipoPagamento),
	)
	reply, err := h.Backend.Validate(c.UserContext(), req)
	if err != nil {
		h.logger().Error("backend request failed", zap.Error(err))
		return c.Status(http.StatusServiceUnavailable).JSON(response.Failure("backend unavailable"))
	}
	h.logger().Info("backend replied", zap.ByteString("body", reply.Body))

	status := http.StatusOK
	if !reply.Success {
		status = http.StatusBadRequest
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(status).Send(reply.Body)
}

func (h *Handlers) HealthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"service": "convenio-interface",
		"backend": h.BackendAddr,
	})
}

func (h *Handlers) DocsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "convenio validation service",
		"version": "1.0",
		"endpoints": []fiber.Map{
			{"path": "/health", "method": http.MethodGet, "description": "health check"},
			{"path": "/api/convenio/validar", "method": http.MethodPost, "description": "validate a convenio or card payment"},
			{"path": "/api/convenio/docs", "method": http.MethodGet, "description": "this document"},
		},
	})
}

// Register mounts the gateway routes on app.
func (h *Handlers) Register(app *fiber.App) {
	app.Get("/health", h.HealthHandler)
	app.Post("/api/convenio/validar", h.ValidatePaymentHandler)
	app.Get("/api/convenio/docs", h.DocsHandler)
}

func (h *Handlers) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required", "required_if":
		return fe.Field() + " is required"
	case "gt":
		return fe.Field() + " must be greater than 0"
	case "oneof":
		return types.ErrInvalidPaymentType.Error()
	default:
		return fe.Field() + " is invalid"
	}
}
