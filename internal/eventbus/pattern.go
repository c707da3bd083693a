package eventbus

import "strings"

// Wildcard matches every event type.
const Wildcard = "*"

// MatchPattern reports whether eventType matches pattern. Supported forms are
// an exact type ("order.created"), a namespace prefix ("order.*" matches any
// type starting with "order.") and the bare wildcard "*".
func MatchPattern(pattern, eventType string) bool {
	switch {
	case pattern == Wildcard:
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	default:
		return pattern == eventType
	}
}

// MatchAny reports whether eventType matches at least one of patterns.
func MatchAny(patterns []string, eventType string) bool {
	for _, p := range patterns {
		if MatchPattern(p, eventType) {
			return true
		}
	}
	return false
}

// ValidPattern reports whether pattern is a well-formed subscription pattern.
func ValidPattern(pattern string) bool {
	if pattern == Wildcard {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		return ValidType(pattern[:len(pattern)-2]) || validSegment(pattern[:len(pattern)-2])
	}
	return ValidType(pattern)
}

// ValidType reports whether t is a dotted lower-case event type with at least
// two segments, e.g. "saleorder.confirmed".
func ValidType(t string) bool {
	parts := strings.Split(t, ".")
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts {
		if !validSegment(p) {
			return false
		}
	}
	return true
}

func validSegment(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}
