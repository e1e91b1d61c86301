package model

// Status is the session state machine position.
type Status int

const (
	StatusUnknown Status = iota
	StatusChecking
	StatusAuthenticated
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusChecking:
		return "checking"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// State is the observable session snapshot handed to UI layers.
type State struct {
	Status          Status
	IsAuthenticated bool
	IsLoading       bool
	User            *Profile
	Error           string
}
