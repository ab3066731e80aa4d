package wsdto

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	sentinal_errors "sentinal-realtime/pkg/errors"
)

const EventAck = "ack"

// Frame is the envelope of every websocket message in both directions.
// Ack carries the client's correlation id verbatim and is absent on pushes.
type Frame struct {
	Event string          `json:"event"`
	Ack   json.RawMessage `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type AckBody struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

type outbound struct {
	Event string          `json:"event"`
	Ack   json.RawMessage `json:"ack,omitempty"`
	Data  any             `json:"data"`
}

// NewPush encodes a server-to-client push frame.
func NewPush(event string, data any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: data})
}

// NewSuccessAck encodes a successful acknowledgement for ackID.
func NewSuccessAck(ackID json.RawMessage, data any) ([]byte, error) {
	return json.Marshal(outbound{Event: EventAck, Ack: ackID, Data: AckBody{Success: true, Data: data}})
}

// NewErrorAck encodes a failed acknowledgement. Errors outside the taxonomy
// are reported as internal.
func NewErrorAck(ackID json.RawMessage, err error) ([]byte, error) {
	return json.Marshal(outbound{Event: EventAck, Ack: ackID, Data: AckBody{
		Success: false,
		Message: sentinal_errors.PublicMessage(err),
		Code:    sentinal_errors.Code(err),
	}})
}

var validate = validator.New()

// Decode unmarshals data into v and validates its struct tags. Any failure
// wraps ErrValidation.
func Decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed payload", sentinal_errors.ErrValidation)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", sentinal_errors.ErrValidation, describe(err))
	}
	return nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	return fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
}
