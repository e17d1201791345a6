package payment

import (
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"convenio-service/internal/types"
)

// Type is the closed set of payment types the engine understands.
type Type string

const (
	Convenio   Type = "CONVENIO"
	Particular Type = "PARTICULAR"
)

const cardMask = "**** **** **** "

// ParseType normalizes s to upper case and classifies it.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(s))
	switch t {
	case Convenio, Particular:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %s", types.ErrInvalidPaymentType, t)
	}
}

// Validate classifies the request by payment type and applies the matching
// parity rule. The returned Type is set whenever classification succeeded.
func Validate(req *types.ValidationRequest) (Type, types.ValidationResult, error) {
	if req.TipoPagamento == nil {
		return "", types.ValidationResult{}, fmt.Errorf("%w: tipo_pagamento", types.ErrMissingField)
	}
	t, err := ParseType(*req.TipoPagamento)
	if err != nil {
		return "", types.ValidationResult{}, err
	}

	switch t {
	case Convenio:
		if req.ConvenioNome == nil {
			return t, types.ValidationResult{}, fmt.Errorf("%w: convenio_nome", types.ErrMissingField)
		}
		return t, ValidateConvenio(*req.ConvenioNome), nil
	default:
		if req.NumeroCartao == nil || *req.NumeroCartao == "" {
			return t, types.ValidationResult{}, fmt.Errorf("%w: numero_cartao", types.ErrMissingField)
		}
		res, err := ValidateParticular(*req.NumeroCartao)
		return t, res, err
	}
}

// ValidateConvenio approves names with an even number of characters.
func ValidateConvenio(name string) types.ValidationResult {
	length := NameLength(name)
	return newResult(
		length%2 == 0,
		"convenio validated - name length is even",
		"convenio rejected - name length is odd",
		fmt.Sprintf("Convênio: %s (length: %d)", name, length),
	)
}

// NameLength counts UTF-16 code units, so a character outside the Basic
// Multilingual Plane counts twice.
func NameLength(name string) int {
	n := 0
	for _, r := range name {
		n += max(utf16.RuneLen(r), 1)
	}
	return n
}

// ValidateParticular approves cards whose last digit is even.
func ValidateParticular(card string) (types.ValidationResult, error) {
	digit, err := LastDigit(card)
	if err != nil {
		return types.ValidationResult{}, err
	}
	masked, err := MaskCard(card)
	if err != nil {
		return types.ValidationResult{}, err
	}
	return newResult(
		digit%2 == 0,
		"payment approved - card last digit is even",
		"payment rejected - card last digit is odd",
		fmt.Sprintf("Card: %s (last digit: %d)", masked, digit),
	), nil
}

// LastDigit returns the numeric value of the last character of card.
func LastDigit(card string) (int, error) {
	r, _ := utf8.DecodeLastRuneInString(card)
	if r < '0' || r > '9' {
		return 0, fmt.Errorf("%w: last character must be a digit", types.ErrInvalidCard)
	}
	return int(r - '0'), nil
}

// MaskCard hides everything but the last four characters.
func MaskCard(card string) (string, error) {
	runes := []rune(card)
	if len(runes) < 4 {
		return "", fmt.Errorf("%w: at least 4 characters required", types.ErrInvalidCard)
	}
	return cardMask + string(runes[len(runes)-4:]), nil
}

func newResult(approved bool, approvedMsg, rejectedMsg, details string) types.ValidationResult {
	res := types.ValidationResult{
		Approved: approved,
		Status:   types.StatusRejected,
		Message:  rejectedMsg,
		Details:  details,
	}
	if approved {
		res.Status = types.StatusApproved
		res.Message = approvedMsg
	}
	return res
}
