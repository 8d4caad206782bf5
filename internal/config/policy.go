package config

// BindFailurePolicy decides what an exhausted or fatal bind failure does
type BindFailurePolicy string

const (
	// BindFailureExit stops the whole relay
	BindFailureExit BindFailurePolicy = "exit"

	// BindFailureIsolate stops only the listener that failed to bind
	BindFailureIsolate BindFailurePolicy = "isolate"
)

// IsValid checks if the policy is known
func (p BindFailurePolicy) IsValid() bool {
	return p == BindFailureExit || p == BindFailureIsolate
}

// String returns the string representation
func (p BindFailurePolicy) String() string {
	return string(p)
}
