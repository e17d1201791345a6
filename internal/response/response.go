// Package response builds the two response shapes written back to clients.
package response

import (
	"github.com/bytedance/sonic"

	"convenio-service/internal/types"
)

// Success echoes the request identifiers alongside the validation result.
func Success(agendamentoID, pacienteID int64, tipoPagamento string, res types.ValidationResult) types.SuccessResponse {
	return types.SuccessResponse{
		Success:       true,
		AgendamentoID: agendamentoID,
		PacienteID:    pacienteID,
		TipoPagamento: tipoPagamento,
		Status:        res.Status,
		Aprovado:      res.Approved,
		Mensagem:      res.Message,
		Detalhes:      res.Details,
	}
}

func Failure(message string) types.FailureResponse {
	return types.FailureResponse{Success: false, Error: message}
}

// FromError converts any request error into a Failure. A nil error still
// yields a Failure so callers never emit an empty line.
func FromError(err error) types.FailureResponse {
	if err == nil {
		return Failure("unknown error")
	}
	return Failure(err.Error())
}

// Encode serializes resp as a single newline-terminated line.
func Encode(resp types.Response) ([]byte, error) {
	b, err := sonic.ConfigFastest.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
