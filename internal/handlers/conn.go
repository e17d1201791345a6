package handlers

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"convenio-service/internal/payment"
	"convenio-service/internal/response"
	"convenio-service/internal/stats"
	"convenio-service/internal/types"
)

const defaultMaxLineBytes = 64 * 1024

type actionFunc func(ctx context.Context, log *zap.Logger, req *types.ValidationRequest) (types.Response, stats.Event)

// ConnHandler serves one request line per connection.
type ConnHandler struct {
	logger       *zap.Logger
	stats        stats.Recorder
	maxLineBytes int
	readTimeout  time.Duration
	writeTimeout time.Duration
	actions      map[types.Action]actionFunc
}

type ConnOption func(*ConnHandler)

func WithStats(r stats.Recorder) ConnOption {
	return func(h *ConnHandler) {
		if r != nil {
			h.stats = r
		}
	}
}

func WithMaxLineBytes(n int) ConnOption {
	return func(h *ConnHandler) {
		if n > 0 {
			h.maxLineBytes = n
		}
	}
}

// WithTimeouts sets per-connection read and write deadlines. Zero disables
// the corresponding deadline.
func WithTimeouts(read, write time.Duration) ConnOption {
	return func(h *ConnHandler) {
		h.readTimeout = read
		h.writeTimeout = write
	}
}

func NewConnHandler(logger *zap.Logger, opts ...ConnOption) *ConnHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ConnHandler{
		logger:       logger,
		stats:        stats.Nop{},
		maxLineBytes: defaultMaxLineBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.actions = map[types.Action]actionFunc{
		types.ActionValidatePayment: h.validatePayment,
	}
	return h
}

// ServeConn reads one line, answers with exactly one line and closes conn.
// A peer that closes before sending a line gets no answer.
func (h *ConnHandler) ServeConn(ctx context.Context, conn net.Conn) {
	log := h.logger.With(
		zap.String("conn_id", uuid.NewString()),
		zap.String("remote", remoteAddr(conn)),
	)
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Warn("close connection", zap.Error(err))
		}
	}()

	line, err := h.readLine(conn)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrRequestTooLarge):
		log.Warn("request line too large", zap.Int("max_bytes", h.maxLineBytes))
		h.reply(ctx, log, conn, response.FromError(err), stats.Event{Outcome: stats.OutcomeFailed})
		return
	case errors.Is(err, io.EOF):
		log.Debug("connection closed without a request")
		return
	default:
		log.Error("read request", zap.Error(err))
		return
	}

	log.Info("request received", zap.ByteString("line", line))
	resp, ev := h.process(ctx, log, line)
	h.reply(ctx, log, conn, resp, ev)
}

func (h *ConnHandler) readLine(conn net.Conn) ([]byte, error) {
	if h.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
			return nil, err
		}
	}

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, min(4096, h.maxLineBytes+1)), h.maxLineBytes+1)
	if sc.Scan() {
		return sc.Bytes(), nil
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, types.ErrRequestTooLarge
		}
		return nil, err
	}
	return nil, io.EOF
}

func (h *ConnHandler) process(ctx context.Context, log *zap.Logger, line []byte) (types.Response, stats.Event) {
	req, err := types.ParseRequest(line)
	if err != nil {
		var decodeErr *types.DecodeError
		if errors.As(err, &decodeErr) {
			log.Info("decode request", zap.String("reason", decodeErr.Reason), zap.Error(decodeErr.Cause))
		}
		return failed("", err)
	}
	action, err := types.ParseAction(*req.Action)
	if err != nil {
		return failed("", err)
	}
	fn, ok := h.actions[action]
	if !ok {
		return failed("", fmt.Errorf("%w: %s", types.ErrInvalidAction, action))
	}
	return fn(ctx, log, req)
}

func (h *ConnHandler) validatePayment(_ context.Context, log *zap.Logger, req *types.ValidationRequest) (types.Response, stats.Event) {
	if err := req.Validate(); err != nil {
		return failed("", err)
	}
	tipo, res, err := payment.Validate(req)
	if err != nil {
		return failed(string(tipo), err)
	}

	log.Debug("payment validated",
		zap.String("tipo_pagamento", string(tipo)),
		zap.Int64("agendamento_id", *req.AgendamentoID),
		zap.String("detalhes", res.Details),
		zap.String("status", res.Status),
	)

	outcome := stats.OutcomeRejected
	if res.Approved {
		outcome = stats.OutcomeApproved
	}
	return response.Success(*req.AgendamentoID, *req.PacienteID, string(tipo), res),
		stats.Event{PaymentType: string(tipo), Outcome: outcome}
}

func (h *ConnHandler) reply(ctx context.Context, log *zap.Logger, conn net.Conn, resp types.Response, ev stats.Event) {
	ev.At = time.Now()
	if err := h.stats.Record(ctx, ev); err != nil {
		log.Warn("record stats", zap.Error(err))
	}

	out, err := response.Encode(resp)
	if err != nil {
		log.Error("encode response", zap.Error(err))
		out = []byte(`{"success":false,"error":"internal error"}` + "\n")
	}

	if h.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
			log.Warn("set write deadline", zap.Error(err))
		}
	}
	if _, err := conn.Write(out); err != nil {
		log.Error("write response", zap.Error(err))
		return
	}
	log.Info("response sent", zap.ByteString("line", bytes.TrimSuffix(out, []byte("\n"))))
}

func failed(paymentType string, err error) (types.Response, stats.Event) {
	return response.FromError(err), stats.Event{PaymentType: paymentType, Outcome: stats.OutcomeFailed}
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
