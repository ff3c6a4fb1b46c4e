package engine

// Status is the engine-wide lifecycle state. Exactly one status value holds
// at any time; every set is broadcast as a status:change event.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusInstalling   Status = "installing"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
)

// AllStatuses lists every status value, for gauges and validation.
var AllStatuses = []string{
	string(StatusInitializing),
	string(StatusInstalling),
	string(StatusReady),
	string(StatusError),
}
