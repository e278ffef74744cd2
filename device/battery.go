package device

import "math"

// Battery voltage range in millivolts. Readings are clamped to this range
// before mapping to a percentage.
const (
	batteryMinMV = 3000
	batteryMaxMV = 4150
)

// BatteryPercent maps a battery reading in millivolts to a 0-100
// percentage using the collar's discharge curve. The curve is piecewise
// linear between calibration points taken from the vendor portal; it is
// monotonic over the clamped range with 3000mV at 0% and 4150mV at 100%.
func BatteryPercent(mv int) int {
	e := float64(mv)
	if e < batteryMinMV {
		e = batteryMinMV
	}
	if e > batteryMaxMV {
		e = batteryMaxMV
	}

	var t float64
	switch {
	case e >= 4000:
		t = (e-4000)/150*17 + 83
	case e >= 3900:
		t = (e-3900)/100*16 + 67
	case e >= 3840:
		t = (e-3840)/60*17 + 50
	case e >= 3760:
		t = (e-3760)/80*16 + 34
	case e >= 3600:
		t = (e-3600)/160*17 + 17
	default:
		t = 0
	}

	return int(math.Round(t))
}

// BatteryPercentOf returns the percentage for a device's battery reading,
// or false when no reading is cached.
func (d *Device) BatteryPercentOf() (int, bool) {
	if d.Battery == nil {
		return 0, false
	}
	return BatteryPercent(*d.Battery), true
}
