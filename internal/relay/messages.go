package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Jeansidharta/yeelight-controller/internal/bridges/yeelight"
	"github.com/Jeansidharta/yeelight-controller/internal/infrastructure/influxdb"
)

// CommandMessage asks the controller to call a method on one lamp. The
// lamp is named by the topic or subject the message arrives on.
//
//	{"id": "c1", "method": "set_bright", "args": [80, "smooth", 500]}
type CommandMessage struct {
	// ID is echoed in the ack for correlation. Optional.
	ID string `json:"id,omitempty"`

	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckOK means the lamp accepted the command.
	AckOK AckStatus = "ok"

	// AckFailed means the command was not delivered or the lamp rejected it.
	AckFailed AckStatus = "failed"
)

// AckMessage reports the outcome of a CommandMessage.
type AckMessage struct {
	CommandID string    `json:"commandId,omitempty"`
	LampID    int64     `json:"lampId"`
	Method    string    `json:"method,omitempty"`
	Status    AckStatus `json:"status"`
	Result    []any     `json:"result,omitempty"`
	Error     *AckError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AckError details a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseCommand decodes a command payload.
func ParseCommand(payload []byte) (CommandMessage, error) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return CommandMessage{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if strings.TrimSpace(cmd.Method) == "" {
		return CommandMessage{}, fmt.Errorf("%w: method is required", ErrInvalidCommand)
	}
	return cmd, nil
}

func newAck(cmd CommandMessage, lampID int64, result []any) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		LampID:    lampID,
		Method:    cmd.Method,
		Status:    AckOK,
		Result:    result,
		Timestamp: time.Now().UTC(),
	}
}

func newAckError(cmd CommandMessage, lampID int64, code, message string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		LampID:    lampID,
		Method:    cmd.Method,
		Status:    AckFailed,
		Error:     &AckError{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	}
}

// sampleFromState maps a lamp state to its metrics sample.
func sampleFromState(s yeelight.DeviceState, source string) influxdb.LampSample {
	return influxdb.LampSample{
		LampID:    s.ID,
		Model:     s.Model,
		Source:    source,
		Power:     s.IsPowerOn,
		Bright:    s.Bright,
		CT:        s.ColorTemperature,
		RGB:       s.RGB,
		Hue:       s.Hue,
		Sat:       s.Saturation,
		Flowing:   s.Flowing,
		MusicMode: s.IsMusicModeOn,
	}
}
