package config

// Secret is an opaque credential wrapper. Its String and MarshalJSON
// implementations redact the value so secrets never leak through logs,
// error messages or config dumps. Call Reveal only at the point of use.
type Secret string

const redacted = "[REDACTED]"

// String implements fmt.Stringer, returning a redaction marker.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString redacts in %#v output as well.
func (s Secret) GoString() string {
	return `config.Secret("` + s.String() + `")`
}

// MarshalJSON always serializes the redaction marker, never the value.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// MarshalText mirrors MarshalJSON for text-based encoders.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reveal returns the underlying value.
func (s Secret) Reveal() string {
	return string(s)
}

// Empty reports whether no value is set.
func (s Secret) Empty() bool {
	return s == ""
}
