package handlers

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"convenio-service/internal/stats"
)

// exchange runs the handler on one end of a pipe, writes request on the other
// end and returns everything the handler wrote before closing.
func exchange(t *testing.T, h *ConnHandler, request string) string {
	t.Helper()
	client, srv := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeConn(context.Background(), srv)
	}()

	require.NoError(t, client.SetDeadline(time.Now().Add(2*time.Second)))
	// The handler may answer before consuming the whole request, so the write
	// must not block the read.
	go func() { _, _ = client.Write([]byte(request)) }()

	out, err := io.ReadAll(client)
	require.NoError(t, err)
	_ = client.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return")
	}
	return string(out)
}

func decode(t *testing.T, line string) map[string]any {
	t.Helper()
	require.True(t, strings.HasSuffix(line, "\n"), "response must end with a newline")
	require.Equal(t, 1, strings.Count(line, "\n"), "exactly one line expected")
	var m map[string]any
	require.NoError(t, sonic.UnmarshalString(line, &m))
	return m
}

func TestServeConn_ConvenioApproved(t *testing.T) {
	h := NewConnHandler(zap.NewNop())
	out := exchange(t, h, `{"action":"validar_pagamento","agendamento_id":1,"paciente_id":2,"tipo_pagamento":"convenio","convenio_nome":"UNIMED"}`+"\n")

	m := decode(t, out)
	assert.Equal(t, true, m["success"])
	assert.EqualValues(t, 1, m["agendamento_id"])
	assert.EqualValues(t, 2, m["paciente_id"])
	assert.Equal(t, "CONVENIO", m["tipo_pagamento"])
	assert.Equal(t, "APROVADO", m["status"])
	assert.Equal(t, true, m["aprovado"])
	assert.Equal(t, "Convênio: UNIMED (length: 6)", m["detalhes"])
}

func TestServeConn_ConvenioNameOutsideBMP(t *testing.T) {
	h := NewConnHandler(zap.NewNop())
	out := exchange(t, h, `{"action":"validar_pagamento","agendamento_id":1,"paciente_id":2,"tipo_pagamento":"CONVENIO","convenio_nome":"\ud83d\ude00A"}`+"\n")

	m := decode(t, out)
	assert.Equal(t, "REJEITADO", m["status"])
	assert.Equal(t, false, m["aprovado"])
	assert.Equal(t, "Convênio: 😀A (length: 3)", m["detalhes"])
}

func TestServeConn_DecodeErrorIsShort(t *testing.T) {
	h := NewConnHandler(zap.NewNop())

	m := decode(t, exchange(t, h, `{"action":"validar_pagamento","agendamento_id":1,"paciente_id":2,"tipo_pagamento":"CONVENIO","convenio_nome":"AB"`+"\n"))
	assert.Equal(t, "invalid request: malformed JSON", m["error"])

	m = decode(t, exchange(t, h, `{"action":"validar_pagamento","agendamento_id":"one"}`+"\n"))
	assert.Equal(t, "invalid request: expected an object with correctly typed fields", m["error"])
}

func TestServeConn_KeysAreCaseSensitive(t *testing.T) {
	h := NewConnHandler(zap.NewNop())
	m := decode(t, exchange(t, h, `{"ACTION":"validar_pagamento","agendamento_id":1,"paciente_id":2,"tipo_pagamento":"CONVENIO","convenio_nome":"AB"}`+"\n"))

	assert.Equal(t, false, m["success"])
	assert.Equal(t, "missing required field: action", m["error"])
}

func TestServeConn_ParticularRejected(t *testing.T) {
	h := NewConnHandler(zap.NewNop())
	out := exchange(t, h, `{"action":"validar_pagamento","agendamento_id":99,"paciente_id":42,"tipo_pagamento":"PARTICULAR","numero_cartao":"4111111111111111"}`+"\n")

	m := decode(t, out)
	assert.Equal(t, true, m["success"])
	assert.Equal(t, "REJEITADO", m["status"])
	assert.Equal(t, false, m["aprovado"])
	assert.Equal(t, "Card: **** **** **** 1111 (last digit: 1)", m["detalhes"])
	assert.EqualValues(t, 99, m["agendamento_id"])
	assert.EqualValues(t, 42, m["paciente_id"])
}

func TestServeConn_Failures(t *testing.T) {
	tests := []struct {
		name    string
		request string
		want    string
	}{
		{"malformed line", "this is not json\n", "invalid request"},
		{"unknown action", `{"action":"cancelar"}` + "\n", "invalid action: cancelar"},
		{"missing action", `{"agendamento_id":1}` + "\n", "missing required field: action"},
		{"unknown payment type", `{"action":"validar_pagamento","agendamento_id":1,"paciente_id":2,"tipo_pagamento":"BITCOIN"}` + "\n", "invalid payment type: BITCOIN"},
		{"missing convenio name", `{"action":"validar_pagamento","agendamento_id":1,"paciente_id":2,"tipo_pagamento":"CONVENIO"}` + "\n", "missing required field: convenio_nome"},
		{"missing paciente", `{"action":"validar_pagamento","agendamento_id":1,"tipo_pagamento":"CONVENIO","convenio_nome":"X"}` + "\n", "missing required field: paciente_id"},
		{"short card", `{"action":"validar_pagamento","agendamento_id":1,"paciente_id":2,"tipo_pagamento":"PARTICULAR","numero_cartao":"12"}` + "\n", "invalid card number"},
		{"non digit card", `{"action":"validar_pagamento","agendamento_id":1,"paciente_id":2,"tipo_pagamento":"PARTICULAR","numero_cartao":"1234abcd"}` + "\n", "invalid card number"},
		{"empty line", "\n", "invalid request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewConnHandler(zap.NewNop())
			m := decode(t, exchange(t, h, tt.request))
			assert.Equal(t, false, m["success"])
			assert.Contains(t, m["error"], tt.want)
		})
	}
}

func TestServeConn_OnlyFirstLineIsRead(t *testing.T) {
	h := NewConnHandler(zap.NewNop())
	out := exchange(t, h, `{"action":"validar_pagamento","agendamento_id":1,"paciente_id":2,"tipo_pagamento":"CONVENIO","convenio_nome":"AB"}`+"\n"+`{"action":"cancelar"}`+"\n")

	m := decode(t, out)
	assert.Equal(t, true, m["success"])
}

func TestServeConn_PeerClosesWithoutSending(t *testing.T) {
	rec := stats.NewMemoryStore()
	h := NewConnHandler(zap.NewNop(), WithStats(rec))
	client, srv := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeConn(context.Background(), srv)
	}()
	require.NoError(t, client.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return")
	}
	assert.Equal(t, stats.Counters{}, rec.Total())
}

func TestServeConn_LineTooLarge(t *testing.T) {
	h := NewConnHandler(zap.NewNop(), WithMaxLineBytes(32))
	out := exchange(t, h, `{"action":"validar_pagamento","convenio_nome":"`+strings.Repeat("A", 64)+`"}`+"\n")

	m := decode(t, out)
	assert.Equal(t, false, m["success"])
	assert.Equal(t, "request too large", m["error"])
}

func TestServeConn_ReadTimeout(t *testing.T) {
	h := NewConnHandler(zap.NewNop(), WithTimeouts(20*time.Millisecond, 0))
	client, srv := net.Pipe()
	defer client.Close()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeConn(context.Background(), srv)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler ignored the read deadline")
	}
}

func TestServeConn_RecordsOutcomes(t *testing.T) {
	rec := stats.NewMemoryStore()
	h := NewConnHandler(zap.NewNop(), WithStats(rec))

	exchange(t, h, `{"action":"validar_pagamento","agendamento_id":1,"paciente_id":2,"tipo_pagamento":"CONVENIO","convenio_nome":"UNIMED"}`+"\n")
	exchange(t, h, `{"action":"validar_pagamento","agendamento_id":1,"paciente_id":2,"tipo_pagamento":"PARTICULAR","numero_cartao":"4111111111111111"}`+"\n")
	exchange(t, h, `{"action":"validar_pagamento","agendamento_id":1,"paciente_id":2,"tipo_pagamento":"PARTICULAR","numero_cartao":"x"}`+"\n")
	exchange(t, h, "garbage\n")

	assert.Equal(t, stats.Counters{Approved: 1, Rejected: 1, Failed: 2}, rec.Total())
	byType := rec.ByType()
	assert.Equal(t, stats.Counters{Approved: 1}, byType["CONVENIO"])
	assert.Equal(t, stats.Counters{Rejected: 1, Failed: 1}, byType["PARTICULAR"])
}

func TestServeConn_ReadsWithBufferedClient(t *testing.T) {
	h := NewConnHandler(zap.NewNop())
	client, srv := net.Pipe()
	go h.ServeConn(context.Background(), srv)
	defer client.Close()

	require.NoError(t, client.SetDeadline(time.Now().Add(2*time.Second)))
	w := bufio.NewWriter(client)
	_, _ = w.WriteString(`{"action":"validar_pagamento","agendamento_id":5,"paciente_id":6,"tipo_pagamento":"particular","numero_cartao":"1234567890123456"}` + "\r\n")
	require.NoError(t, w.Flush())

	line, err := bufio.NewReader(client).ReadString('\n')
	require.NoError(t, err)
	m := decode(t, line)
	assert.Equal(t, "PARTICULAR", m["tipo_pagamento"])
	assert.Equal(t, "Card: **** **** **** 3456 (last digit: 6)", m["detalhes"])
}
