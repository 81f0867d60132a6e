package appliance

import "math"

// stateOfChargeScale is the full-scale raw state of charge reported by the appliance.
const stateOfChargeScale = 255

// TankReading is the canonical tank record. Level stays on the appliance's
// 0-100 scale; consumers convert it to a ratio.
type TankReading struct {
	Name           string  `json:"name"`
	Level          float64 `json:"level"`
	Capacity       float64 `json:"capacity"`
	AutoSwitchMode bool    `json:"autoSwitchMode"`
	ValveState     string  `json:"valveState"`
	ModuleID       int     `json:"moduleId"`
}

// BatteryReading is the canonical battery record. StateOfCharge is a 0-1
// ratio, or nil when the appliance did not report a usable value.
type BatteryReading struct {
	Name          string   `json:"name"`
	Voltage       float64  `json:"voltage"`
	Current       float64  `json:"current"`
	StateOfCharge *float64 `json:"stateOfCharge"`
	HealthLevel   string   `json:"healthLevel"`
	ModuleID      int      `json:"moduleId"`
}

// TranslateTank copies a tank frame into a TankReading without unit conversion.
func TranslateTank(f *TankFrame) TankReading {
	return TankReading{
		Name:           string(f.Type),
		Level:          f.Level.Value,
		Capacity:       f.Capacity.Value,
		AutoSwitchMode: bool(f.AutoSwitchMode),
		ValveState:     string(f.ValveState),
		ModuleID:       moduleID(f.ModuleID),
	}
}

// TranslateBattery copies a battery frame into a BatteryReading, scaling the
// raw 0-255 state of charge to a ratio.
func TranslateBattery(f *BatteryFrame) BatteryReading {
	return BatteryReading{
		Name:          string(f.Type),
		Voltage:       f.VoltageLevel.Value,
		Current:       f.Current.Value,
		StateOfCharge: stateOfChargeRatio(f.StateOfCharge),
		HealthLevel:   string(f.HealthLevel),
		ModuleID:      moduleID(f.ModuleID),
	}
}

// moduleID converts a raw module id. Values that are not whole numbers in
// the int32 range read as 0, the same as an absent id.
func moduleID(raw Number) int {
	if !raw.Valid || raw.Value != math.Trunc(raw.Value) {
		return 0
	}
	if raw.Value < math.MinInt32 || raw.Value > math.MaxInt32 {
		return 0
	}
	return int(raw.Value)
}

// Absent and zero raw values both map to nil (unknown), never to 0.
func stateOfChargeRatio(raw Number) *float64 {
	if !raw.Valid || raw.Value == 0 {
		return nil
	}
	ratio := raw.Value / stateOfChargeScale
	return &ratio
}
