package domain

// ImbalanceType is the direction of a price dislocation.
type ImbalanceType string

const (
	ImbalanceUp   ImbalanceType = "UP"
	ImbalanceDown ImbalanceType = "DOWN"
)

// ImbalanceState is the detector's state machine state. There is one state
// per detector instance, not per imbalance.
type ImbalanceState string

const (
	StateWait              ImbalanceState = "WAIT"
	StateProgress          ImbalanceState = "PROGRESS"
	StatePotentialEndPoint ImbalanceState = "POTENTIAL_END_POINT"
	StateCompleted         ImbalanceState = "COMPLETED"
)

// Imbalance is a directional dislocation between a start and an end sample.
// Times are Unix milliseconds. While the detector is in PROGRESS or
// POTENTIAL_END_POINT the end fields keep extending; once COMPLETED the value
// is frozen and appended to history.
type Imbalance struct {
	ID           string
	StartTime    int64
	StartPrice   float64
	EndTime      int64
	EndPrice     float64
	Type         ImbalanceType
	CompleteTime int64
}

// Size is the absolute price distance covered by the imbalance.
func (i Imbalance) Size() float64 {
	if i.Type == ImbalanceUp {
		return i.EndPrice - i.StartPrice
	}
	return i.StartPrice - i.EndPrice
}

// Duration is the elapsed time between start and end in milliseconds.
func (i Imbalance) Duration() int64 {
	return i.EndTime - i.StartTime
}

// Speed is the price distance covered per millisecond.
func (i Imbalance) Speed() float64 {
	d := i.Duration()
	if d <= 0 {
		return 0
	}
	return i.Size() / float64(d)
}
