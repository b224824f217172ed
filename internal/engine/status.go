package engine

import "fmt"

// Status is the scheduler's lifecycle state.
type Status int

const (
	// Idle: population initialized, no event drawn yet.
	Idle Status = iota
	// Running: events are being drawn and applied.
	Running
	// Absorbed: total propensity reached zero; no event can ever fire again.
	Absorbed
	// HorizonReached: the next event would have landed past the horizon.
	HorizonReached
)

var statusNames = [...]string{
	Idle:           "idle",
	Running:        "running",
	Absorbed:       "absorbed",
	HorizonReached: "horizon_reached",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// Terminal reports whether no further transitions can occur from s.
func (s Status) Terminal() bool {
	return s == Absorbed || s == HorizonReached
}

// ParseStatus maps a name produced by String back to a Status.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// MarshalText encodes s by name.
func (s Status) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("unknown status %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText decodes a name produced by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
