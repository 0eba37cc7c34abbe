// Package units converts FARS alcohol test result codes to blood alcohol
// concentration in grams per decilitre.
package units

// FARS changed the ALC_RES coding in 2015 from hundredths to thousandths
// of a g/dL.
const ThousandthsFromYear = 2015

// Coding boundaries for the two ALC_RES schemes.
const (
	maxHundredthsCode  = 94  // 0.94 or greater
	maxThousandthsCode = 940 // 0.940 or greater
)

// Common thresholds in g/dL.
const (
	AnyAlcohol = 0.0
	LegalLimit = 0.08
)

// BACFromCode converts an ALC_RES value for the given crash year into a BAC
// in g/dL. known is false for the "not tested", "refused", "positive reading
// with no value" and "unknown" codes.
func BACFromCode(year, code int) (bac float64, known bool) {
	if code < 0 {
		return 0, false
	}
	if year >= ThousandthsFromYear {
		if code > maxThousandthsCode {
			return 0, false
		}
		return float64(code) / 1000, true
	}
	if code > maxHundredthsCode {
		return 0, false
	}
	return float64(code) / 100, true
}

// CodeFromBAC is the inverse of BACFromCode for known values. Unknown values
// are encoded as the "unknown" code of the year's scheme.
func CodeFromBAC(year int, bac float64, known bool) int {
	if year >= ThousandthsFromYear {
		if !known {
			return 999
		}
		return int(bac*1000 + 0.5)
	}
	if !known {
		return 99
	}
	return int(bac*100 + 0.5)
}

// IsValidThreshold reports whether t can be used as a BAC threshold.
func IsValidThreshold(t float64) bool {
	return t >= 0 && t < 1
}
