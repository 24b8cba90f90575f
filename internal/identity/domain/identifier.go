package domain

import "strings"

// IdentifierKind is the inferred type of a free-form user identifier.
type IdentifierKind int

const (
	IdentifierUsername IdentifierKind = iota
	IdentifierID
	IdentifierUUID
	IdentifierEmail
)

// ClassifyIdentifier infers what kind of identifier a free-form string is.
// Rules apply in order: all-numeric is an internal id, an address shape is an
// email, five dash-separated segments is a uuid, anything else is treated as a
// username. Pure function; there is no failure mode.
func ClassifyIdentifier(value string) IdentifierKind {
	value = strings.TrimSpace(value)
	if value == "" {
		return IdentifierUsername
	}

	if isNumeric(value) {
		return IdentifierID
	}
	if ValidEmail(value) {
		return IdentifierEmail
	}
	if len(strings.Split(value, "-")) == 5 {
		return IdentifierUUID
	}
	return IdentifierUsername
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
