// Package standards holds the ISO 4064 reference data the gravimetric
// engine (C11) needs: the temperature/density table for gravimetric
// volume correction, the per-size/class Q-point table, and the error/pass
// formulas applied to each test point.
package standards

// densityTable holds water density in kg/L at integer Celsius
// temperatures, 4-40°C, at standard atmospheric pressure.
var densityTable = map[int]float64{
	4: 0.99997, 5: 0.99996, 6: 0.99994, 7: 0.99990, 8: 0.99985, 9: 0.99978,
	10: 0.99970, 11: 0.99961, 12: 0.99950, 13: 0.99938, 14: 0.99924,
	15: 0.99910, 16: 0.99894, 17: 0.99877, 18: 0.99860, 19: 0.99841,
	20: 0.99820, 21: 0.99799, 22: 0.99777, 23: 0.99754, 24: 0.99730,
	25: 0.99705, 26: 0.99678, 27: 0.99651, 28: 0.99623, 29: 0.99594,
	30: 0.99565, 31: 0.99534, 32: 0.99503, 33: 0.99470, 34: 0.99437,
	35: 0.99403, 36: 0.99368, 37: 0.99333, 38: 0.99297, 39: 0.99259,
	40: 0.99222,
}

// WaterDensity returns water density in kg/L for temperatureC, linearly
// interpolated between the nearest table entries and clamped to [4,40]°C.
func WaterDensity(temperatureC float64) float64 {
	t := temperatureC
	if t < 4 {
		t = 4
	}
	if t > 40 {
		t = 40
	}

	lower := int(t)
	upper := lower + 1
	if upper > 40 {
		return densityTable[40]
	}

	dLower, dUpper := densityTable[lower], densityTable[upper]
	fraction := t - float64(lower)
	return dLower + (dUpper-dLower)*fraction
}

// CalculateError returns the meter error percentage per ISO 4064.
func CalculateError(refVolumeL, dutVolumeL float64) float64 {
	if refVolumeL == 0 {
		return 0
	}
	return ((dutVolumeL - refVolumeL) / refVolumeL) * 100.0
}

// CheckPass reports whether errorPct is within the maximum permissible
// error mpePct.
func CheckPass(errorPct, mpePct float64) bool {
	return absf(errorPct) <= absf(mpePct)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
