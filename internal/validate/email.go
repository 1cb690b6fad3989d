package validate

import (
	"regexp"
	"strings"
)

// Reason classifies why an email was rejected, so abuse monitoring can count
// suspicious submissions separately from plain typos.
type Reason string

const (
	ReasonMalformed  Reason = "malformed"
	ReasonSuspicious Reason = "suspicious_pattern"
)

// Result is the outcome of validating one raw email string.
type Result struct {
	Valid      bool
	Normalized string
	Reason     Reason
}

// Strict syntactic check. Consecutive dots and leading/trailing dots in the
// local part are rejected separately below.
var emailRe = regexp.MustCompile(`^[A-Za-z0-9!#$%&'*+/=?^_` + "`" + `{|}~.-]+@[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]*[A-Za-z0-9])?)+$`)

// Known throwaway providers. Submissions from these are counted as abuse
// signals rather than honest mistakes.
var disposableDomains = map[string]bool{
	"mailinator.com":    true,
	"guerrillamail.com": true,
	"sharklasers.com":   true,
	"10minutemail.com":  true,
	"yopmail.com":       true,
	"tempmail.com":      true,
	"temp-mail.org":     true,
	"getnada.com":       true,
	"trashmail.com":     true,
	"dispostable.com":   true,
	"throwawaymail.com": true,
	"fakeinbox.com":     true,
	"maildrop.cc":       true,
	"mintemail.com":     true,
}

var suspiciousLocalRe = regexp.MustCompile(`^(test|testing|spam|abuse|noreply|no-reply|(asdf)+|qwerty)[0-9]*$`)

// Email normalizes and validates a raw address. Normalization trims
// surrounding whitespace and lower-cases the domain; the local part is kept
// as submitted. The function is pure: no I/O, no state.
func Email(raw string) Result {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > 254 {
		return Result{Reason: ReasonMalformed}
	}

	at := strings.LastIndexByte(trimmed, '@')
	if at <= 0 || at == len(trimmed)-1 {
		return Result{Reason: ReasonMalformed}
	}
	local := trimmed[:at]
	domain := strings.ToLower(trimmed[at+1:])
	normalized := local + "@" + domain

	switch {
	case len(local) > 64,
		strings.Contains(normalized, ".."),
		strings.HasPrefix(local, "."),
		strings.HasSuffix(local, "."),
		!emailRe.MatchString(normalized):
		return Result{Reason: ReasonMalformed}
	}

	if disposableDomains[domain] || suspiciousLocalRe.MatchString(strings.ToLower(local)) {
		return Result{Reason: ReasonSuspicious}
	}

	return Result{Valid: true, Normalized: normalized}
}
