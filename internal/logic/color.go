package logic

// DecodeColor maps the raw levels of the two indicator lines to a Color.
// Both lines are active-low: a low level means that LED is lit.
func DecodeColor(openHigh, closeHigh bool) Color {
	switch {
	case openHigh && closeHigh:
		return ColorOff
	case openHigh && !closeHigh:
		return ColorRed
	case !openHigh && closeHigh:
		return ColorGreen
	default:
		return ColorOrange
	}
}
