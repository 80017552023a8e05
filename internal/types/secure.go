package types

// redactedPlaceholder replaces secret values in logs and serialized output.
const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a sensitive value (bot token, webhook secret, internal
// API key) and refuses to print it. String() and MarshalJSON() return a
// redacted placeholder so secrets cannot leak through fmt, structured logs,
// or config dumps. Call Unmask() at the point of use.
type SecretString string

// String returns the redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value. Limit usage to constructing
// Authorization headers, signing keys, and connection strings.
func (s SecretString) Unmask() string {
	return string(s)
}
