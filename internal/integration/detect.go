package integration

import "regexp"

const (
	TrackingContainer    = "container"
	TrackingBooking      = "booking"
	TrackingBillOfLading = "bill-of-lading"
	TrackingUnknown      = "unknown"
	TrackingAuto         = "auto"
)

var (
	containerPattern = regexp.MustCompile(`^[A-Z]{4}\d{7}$`)
	bookingPattern   = regexp.MustCompile(`^\d{10,12}$`)
	blPattern        = regexp.MustCompile(`^[A-Z]{2,3}\d{8,10}$`)
)

// DetectTrackingType classifies a tracking number by shape.
func DetectTrackingType(number string) string {
	switch {
	case containerPattern.MatchString(number):
		return TrackingContainer
	case bookingPattern.MatchString(number):
		return TrackingBooking
	case blPattern.MatchString(number):
		return TrackingBillOfLading
	}
	return TrackingUnknown
}

// ResolveTrackingType maps "" and "auto" to the detected type.
func ResolveTrackingType(number, typ string) string {
	if typ == "" || typ == TrackingAuto {
		return DetectTrackingType(number)
	}
	return typ
}
