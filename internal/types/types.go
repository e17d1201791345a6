package types

// Action is the operation requested on a connection line.
type Action string

const (
	ActionValidatePayment Action = "validar_pagamento"
)

// Status values reported for a validation.
const (
	StatusApproved = "APROVADO"
	StatusRejected = "REJEITADO"
)

// ValidationRequest is the decoded form of one inbound line. Fields are
// pointers so a missing field can be told apart from its zero value.
type ValidationRequest struct {
	Action        *string `json:"action" validate:"required"`
	AgendamentoID *int64  `json:"agendamento_id" validate:"required"`
	PacienteID    *int64  `json:"paciente_id" validate:"required"`
	TipoPagamento *string `json:"tipo_pagamento" validate:"required"`
	ConvenioNome  *string `json:"convenio_nome,omitempty"`
	NumeroCartao  *string `json:"numero_cartao,omitempty"`
}

type ValidationResult struct {
	Approved bool
	Status   string
	Message  string
	Details  string
}

// Response is either a SuccessResponse or a FailureResponse.
type Response interface {
	isResponse()
}

type SuccessResponse struct {
	Success       bool   `json:"success"`
	AgendamentoID int64  `json:"agendamento_id"`
	PacienteID    int64  `json:"paciente_id"`
	TipoPagamento string `json:"tipo_pagamento"`
	Status        string `json:"status"`
	Aprovado      bool   `json:"aprovado"`
	Mensagem      string `json:"mensagem"`
	Detalhes      string `json:"detalhes"`
}

type FailureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (SuccessResponse) isResponse() {}
func (FailureResponse) isResponse() {}

// Reply is the client-side view of a response line. Body keeps the raw line
// so it can be relayed untouched.
type Reply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Status  string `json:"status,omitempty"`
	Body    []byte `json:"-"`
}
