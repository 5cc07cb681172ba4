// Package units provides shared constants and validation for distance units
package units

// Unit constants
const (
	UM  = "um"
	MM  = "mm"
	MIL = "mil"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{UM, MM, MIL}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "um, mm, mil"
}

// ConvertDistance converts a distance from micrometres to the target units
// Database stores distances in µm (micrometres)
func ConvertDistance(distanceUm float64, targetUnits string) float64 {
	switch targetUnits {
	case UM:
		return distanceUm
	case MM:
		return distanceUm / 1000.0
	case MIL:
		return distanceUm / 25.4 // 1 mil = 25.4 µm
	default:
		return distanceUm
	}
}

// ConvertToUm converts a distance in the given units back to micrometres
func ConvertToUm(distance float64, fromUnits string) float64 {
	switch fromUnits {
	case UM:
		return distance
	case MM:
		return distance * 1000.0
	case MIL:
		return distance * 25.4
	default:
		return distance
	}
}
