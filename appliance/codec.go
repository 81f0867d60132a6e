package appliance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Discriminator values carried in the "class" field of inbound frames.
const (
	ClassTank    = "Tank"
	ClassBattery = "Battery"
)

// fetchMapCmd is the only command the appliance accepts from the bridge.
const fetchMapCmd = "fetch_map"

// ErrMalformedFrame is returned by Decode for text that is neither the
// keep-alive token nor valid JSON.
var ErrMalformedFrame = errors.New("malformed frame")

// FrameKind classifies a decoded frame.
type FrameKind int

const (
	FrameUnrecognized FrameKind = iota
	FrameKeepAlive
	FrameTank
	FrameBattery
)

func (k FrameKind) String() string {
	switch k {
	case FrameKeepAlive:
		return "KeepAlive"
	case FrameTank:
		return "Tank"
	case FrameBattery:
		return "Battery"
	default:
		return "Unrecognized"
	}
}

// Frame is the result of decoding one raw text frame.
// Exactly one of Tank and Battery is set for FrameTank and FrameBattery.
type Frame struct {
	Kind    FrameKind
	Class   string
	Tank    *TankFrame
	Battery *BatteryFrame
}

// TankFrame is the wire shape of a tank update.
type TankFrame struct {
	Type           Text   `json:"tank_type"`
	Level          Number `json:"tank_level"`
	Capacity       Number `json:"tank_capacity"`
	AutoSwitchMode Flag   `json:"tank_auto_switch_mode"`
	ValveState     Text   `json:"tank_valve_state"`
	ModuleID       Number `json:"tank_module_id"`
}

// BatteryFrame is the wire shape of a battery update.
type BatteryFrame struct {
	Type          Text   `json:"battery_type"`
	VoltageLevel  Number `json:"battery_voltage_level"`
	Current       Number `json:"battery_current"`
	StateOfCharge Number `json:"battery_state_of_charge"`
	HealthLevel   Text   `json:"battery_health_level"`
	ModuleID      Number `json:"battery_module_id"`
}

// Number is a numeric wire field. It accepts JSON numbers, numeric strings
// and null; anything else leaves it invalid instead of failing the frame.
type Number struct {
	Value float64
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}

	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	n.Value = f
	n.Valid = true
	return nil
}

// MarshalJSON implements json.Marshaler; an invalid Number encodes as null.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Text is a string wire field. Numbers and booleans keep their literal text;
// null, objects and arrays leave it empty.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	*t = ""

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(s)
		return nil
	}
	lit := strings.TrimSpace(string(data))
	if lit == "true" || lit == "false" {
		*t = Text(lit)
		return nil
	}
	if _, err := strconv.ParseFloat(lit, 64); err == nil {
		*t = Text(lit)
	}
	return nil
}

// Flag is a boolean wire field. It also accepts "true"/"false" style strings
// and numbers, where any non-zero value is true. Anything else reads as false.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	*f = false

	s := strings.TrimSpace(string(data))
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	if b, err := strconv.ParseBool(s); err == nil {
		*f = Flag(b)
		return nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		*f = n != 0
	}
	return nil
}

// discriminator reads the string value of field from a decoded object.
// A missing or non-string value reads as empty.
func discriminator(fields map[string]json.RawMessage, field string) string {
	raw, ok := fields[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Decode classifies a raw text frame. The keep-alive token decodes to
// FrameKeepAlive. Any other JSON value without a known string discriminator
// decodes to FrameUnrecognized. Only text that is not JSON returns an error.
func Decode(raw []byte, keepAlive string) (Frame, error) {
	text := bytes.TrimSpace(raw)
	if keepAlive != "" && string(text) == keepAlive {
		return Frame{Kind: FrameKeepAlive}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(text, &fields); err != nil {
		if json.Valid(text) {
			return Frame{Kind: FrameUnrecognized}, nil
		}
		return Frame{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}

	class := discriminator(fields, "class")
	if class == "" {
		class = discriminator(fields, "kind")
	}

	switch class {
	case ClassTank:
		var tf TankFrame
		if err := json.Unmarshal(text, &tf); err != nil {
			return Frame{}, fmt.Errorf("%w: tank: %w", ErrMalformedFrame, err)
		}
		return Frame{Kind: FrameTank, Class: class, Tank: &tf}, nil

	case ClassBattery:
		var bf BatteryFrame
		if err := json.Unmarshal(text, &bf); err != nil {
			return Frame{}, fmt.Errorf("%w: battery: %w", ErrMalformedFrame, err)
		}
		return Frame{Kind: FrameBattery, Class: class, Battery: &bf}, nil

	default:
		return Frame{Kind: FrameUnrecognized, Class: class}, nil
	}
}

type requestFrame struct {
	Cmd        string `json:"cmd"`
	Params     string `json:"params"`
	CallbackID int    `json:"callback_id"`
}

// EncodeRequest builds the fetch_map frame for a data request.
func EncodeRequest(req DataRequest) ([]byte, error) {
	return json.Marshal(requestFrame{
		Cmd:        fetchMapCmd,
		Params:     req.Category,
		CallbackID: req.CallbackID,
	})
}
