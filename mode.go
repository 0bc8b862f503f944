package xmlmode

import (
	"fmt"
	"strings"
)

// ValidationMode identifies how an XML document expects to be validated.
type ValidationMode int

const (
	// ValidationNone disables validation. Detection never returns it; it is
	// only meaningful as a configured mode.
	ValidationNone ValidationMode = iota

	// ValidationAuto means no clear indication was found (usually the
	// document could not be decoded) and the caller should let the parser
	// decide.
	ValidationAuto

	// ValidationDTD means a DOCTYPE declaration was found.
	ValidationDTD

	// ValidationXSD means no DOCTYPE declaration was found before the first
	// opening tag.
	ValidationXSD
)

var modeNames = map[ValidationMode]string{
	ValidationNone: "none",
	ValidationAuto: "auto",
	ValidationDTD:  "dtd",
	ValidationXSD:  "xsd",
}

// String returns the lower-case name of the mode.
func (m ValidationMode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("ValidationMode(%d)", int(m))
}

// ParseValidationMode parses a mode name. Matching is case-insensitive and
// "schema" is accepted as an alias for xsd.
func ParseValidationMode(s string) (ValidationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return ValidationNone, nil
	case "auto", "":
		return ValidationAuto, nil
	case "dtd":
		return ValidationDTD, nil
	case "xsd", "schema":
		return ValidationXSD, nil
	default:
		return ValidationAuto, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (m ValidationMode) MarshalText() ([]byte, error) {
	if _, ok := modeNames[m]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *ValidationMode) UnmarshalText(text []byte) error {
	parsed, err := ParseValidationMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
