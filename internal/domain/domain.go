package domain

// KeyPrefix namespaces every key this service writes to the store.
const KeyPrefix = "knowd:"

// IsValidID reports whether s is usable as an organization, user, resource or
// document identifier: ^[a-zA-Z0-9_-]+$, 1-256 chars. Identifiers end up inside
// separator-joined TAG fields and key names, so the character set is strict.
func IsValidID(s string) bool {
	if s == "" || len(s) > 256 {
		return false
	}
	for _, r := range s {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		isDigit := r >= '0' && r <= '9'
		if !isAlpha && !isDigit && r != '_' && r != '-' {
			return false
		}
	}
	return true
}
