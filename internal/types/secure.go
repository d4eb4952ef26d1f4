package types

const redactedPlaceholder = "***REDACTED***"

// SecretString holds credentials loaded from the environment or SSM
// (database URL, provider API keys, webhook signing secrets). Printing or
// JSON-encoding it yields a placeholder; Unmask returns the raw value.
type SecretString string

func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON keeps secrets out of config dumps and structured logs.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// Unmask returns the plaintext. Call it only at the point of use.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether a value was configured.
func (s SecretString) IsSet() bool {
	return s != ""
}
