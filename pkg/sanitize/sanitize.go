package sanitize

import (
	"context"
	"regexp"

	"github.com/knowhq/sable/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Placeholders. Phone and email get category-specific tokens so the model
// can still reason about what kind of contact detail was removed; all
// other categories share the generic token.
const (
	PlaceholderEmail   = "<EMAIL_REDACTED>"
	PlaceholderPhone   = "<PHONE_REDACTED>"
	PlaceholderGeneric = "<REDACTED>"
)

// Result is the outcome of one sanitization pass. Degraded marks text
// returned unscrubbed because the detector faulted (fail-open), so audit
// logs can distinguish it from a clean pass.
type Result struct {
	Text     string
	Redacted bool
	Degraded bool
}

// Sanitizer scrubs sensitive content from inbound user text
type Sanitizer interface {
	Sanitize(ctx context.Context, text string) Result
}

type rule struct {
	name        string
	re          *regexp.Regexp
	placeholder string
}

// Detector is a regex-based PII detector. Personal names are deliberately
// not a category: redacting them breaks "who is X" questions.
type Detector struct {
	rules []rule
}

// Ordering matters: structured identifiers (card, IBAN, SSN, crypto, IP)
// are matched before the generic phone digit-run pattern so a card number
// is not half-eaten as a phone number.
var fullRules = []struct {
	name        string
	pattern     string
	placeholder string
}{
	{"email", `[\w.+-]+@[\w-]+(?:\.[\w-]+)+`, PlaceholderEmail},
	{"crypto", `\b(?:bc1[a-z0-9]{20,}|[13][a-km-zA-HJ-NP-Z1-9]{25,34}|0x[a-fA-F0-9]{40})\b`, PlaceholderGeneric},
	{"iban", `\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`, PlaceholderGeneric},
	{"ssn", `\b\d{3}-\d{2}-\d{4}\b`, PlaceholderGeneric},
	{"credit_card", `\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4}\b`, PlaceholderGeneric},
	{"ip_address", `\b(?:\d{1,3}\.){3}\d{1,3}\b`, PlaceholderGeneric},
	{"phone", `\+?\d[\d -]{8,12}\d`, PlaceholderPhone},
}

// New builds the full detector
func New() (*Detector, error) {
	rules := make([]rule, 0, len(fullRules))
	for _, r := range fullRules {
		re, err := regexp.Compile(r.pattern)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to compile PII pattern", goerr.V("category", r.name))
		}
		rules = append(rules, rule{name: r.name, re: re, placeholder: r.placeholder})
	}
	return &Detector{rules: rules}, nil
}

// NewFallback builds the degraded-mode detector: email and phone digit
// runs only. Same interface, lower recall.
func NewFallback() *Detector {
	return &Detector{rules: []rule{
		{name: "email", re: regexp.MustCompile(`[\w.+-]+@[\w-]+(?:\.[\w-]+)+`), placeholder: PlaceholderEmail},
		{name: "phone", re: regexp.MustCompile(`\+?\d[\d -]{8,12}\d`), placeholder: PlaceholderPhone},
	}}
}

// Sanitize scrubs detected categories from the text. It never fails: a
// detector fault returns the original text with Degraded set, logged as
// a security-relevant event.
func (d *Detector) Sanitize(ctx context.Context, text string) (res Result) {
	res = Result{Text: text}
	if text == "" {
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			logging.From(ctx).Error("PII detector fault, returning text unscrubbed", "panic", r)
			res = Result{Text: text, Degraded: true}
		}
	}()

	out := text
	for _, rl := range d.rules {
		replaced := rl.re.ReplaceAllString(out, rl.placeholder)
		if replaced != out {
			res.Redacted = true
			out = replaced
		}
	}
	res.Text = out
	return res
}
