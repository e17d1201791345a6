package types

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
)

var validatorInstance = newValidator()

// wireAPI decodes request lines. Object keys must match their json tags
// exactly.
var wireAPI = sonic.Config{
	CopyString:     true,
	ValidateString: true,
	CaseSensitive:  true,
}.Froze()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(JSONFieldName)
	return v
}

// JSONFieldName makes validator errors report the wire name of a field.
func JSONFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// ParseRequest decodes one inbound line. It only requires the line to be a
// JSON object carrying an action; per-action checks happen in Validate.
func ParseRequest(line []byte) (*ValidationRequest, error) {
	var req ValidationRequest
	if err := wireAPI.Unmarshal(line, &req); err != nil {
		reason := "malformed JSON"
		if wireAPI.Valid(line) {
			reason = "expected an object with correctly typed fields"
		}
		return nil, &DecodeError{Reason: reason, Cause: err}
	}
	if req.Action == nil {
		return nil, fmt.Errorf("%w: action", ErrMissingField)
	}
	return &req, nil
}

// ParseAction maps the wire value onto the closed set of supported actions.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionValidatePayment:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidAction, s)
	}
}

// Validate checks the fields shared by every payment type.
func (r *ValidationRequest) Validate() error {
	err := validatorInstance.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, verrs[0].Field())
	}
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}
