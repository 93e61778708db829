package skill

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/mod/semver"
)

const (
	// MinDescriptionLen is the minimum description length in characters.
	MinDescriptionLen = 20
	// MinBodyLen is the minimum instructional body length, counted
	// after whitespace normalization.
	MinBodyLen = 500
)

// Skill names are lowercase-hyphen tokens: no leading/trailing hyphen,
// single characters allowed.
var nameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ValidationError explains why a candidate skill was rejected. The
// reason string ends up in skip logs, so it names the failing field
// and the observed value or length.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks a parsed candidate against the registry's acceptance
// rules. A nil return means the candidate may become a manifest;
// otherwise the candidate is discarded and the error logged.
func Validate(p *Parsed) error {
	if !nameRe.MatchString(p.Meta.Name) {
		return &ValidationError{
			Field:  "name",
			Reason: fmt.Sprintf("%q must be lowercase letters, digits and inner hyphens", p.Meta.Name),
		}
	}

	// Lengths are counted in characters, not bytes, so multibyte text
	// is measured the same as ASCII.
	if n := utf8.RuneCountInString(p.Meta.Description); n < MinDescriptionLen {
		return &ValidationError{
			Field:  "description",
			Reason: fmt.Sprintf("length %d below minimum %d", n, MinDescriptionLen),
		}
	}

	if n := utf8.RuneCountInString(NormalizeWhitespace(p.Body)); n < MinBodyLen {
		return &ValidationError{
			Field:  "body",
			Reason: fmt.Sprintf("length %d below minimum %d", n, MinBodyLen),
		}
	}

	// Version is optional; when present it must be valid semver.
	// Authors commonly omit the "v" prefix, so tolerate both forms.
	if v := p.Meta.Version; v != "" {
		canonical := v
		if !strings.HasPrefix(canonical, "v") {
			canonical = "v" + canonical
		}
		if !semver.IsValid(canonical) {
			return &ValidationError{
				Field:  "version",
				Reason: fmt.Sprintf("%q is not a semantic version", v),
			}
		}
	}

	return nil
}

// NormalizeWhitespace collapses every run of whitespace to a single
// space and trims the ends. Body-length checks use the normalized form
// so padding cannot satisfy the minimum.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
