package dto

import (
	"regexp"
	"strings"
	"unicode"

	"bizsuite-orchestrator/internal/eventbus"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// ReservedNamespace holds the orchestrator's own lifecycle events, which
// callers may not publish.
const ReservedNamespace = "saga."

var safeIDRe = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("safe_id", validateSafeID)
		_ = v.RegisterValidation("event_type", validateEventType)
		_ = v.RegisterValidation("reason", validateReason)
	}
}

func validateSafeID(fl validator.FieldLevel) bool {
	return safeIDRe.MatchString(fl.Field().String())
}

// validateEventType accepts lowercase dotted names outside the reserved namespace.
func validateEventType(fl validator.FieldLevel) bool {
	t := fl.Field().String()
	return eventbus.ValidType(t) && !strings.HasPrefix(t, ReservedNamespace)
}

// validateReason rejects blank text and control characters. Reasons are
// copied into step history and lifecycle event payloads.
func validateReason(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if strings.TrimSpace(s) == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsControl(r) && r != '\n' && r != '\t'
	}) < 0
}

// CleanReason trims the reason and folds whitespace runs into one space.
func CleanReason(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
