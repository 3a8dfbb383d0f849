package domain

// DialResult is what a successful origination yields: the carrier-assigned
// reference and the media room bound to the call
type DialResult struct {
	CarrierReference string
	RoomName         string
}
