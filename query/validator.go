package query

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/poiesic/boardmax/core"
)

const (
	// DefaultMinLength is the shortest accepted question, in characters.
	DefaultMinLength = 10

	// DefaultMaxLength is the longest accepted question or student answer, in characters.
	DefaultMaxLength = 2000
)

// DefaultInjectionPatterns are case-insensitive expressions that reject a
// request outright. Matching is purely lexical and runs against both the raw
// text and a copy with whitespace folded and zero-width characters removed.
// The instruction-override pattern is unanchored so it matches inside words.
var DefaultInjectionPatterns = []string{
	`(ignore|disregard|forget|override|bypass)\s+(all\s+|any\s+|the\s+|your\s+|of\s+)*(previous|prior|above|earlier|preceding|system|original)\s+(instructions?|prompts?|rules|directions|messages?|context)`,
	`\byou\s+are\s+now\b`,
	`\b(now|please|you\s+(will|must|should|shall))\s+act\s+as\b`,
	`\bact\s+as\s+(an?\s+)?(ai|assistant|system|admin|administrator|developer|jailbroken|unrestricted|unfiltered)\b`,
	`\bpretend\s+(to\s+be|you\s+are)\b`,
	`\broleplay\s+as\b`,
	`\bfrom\s+now\s+on\s+you\b`,
	`\bnew\s+instructions?\s*:`,
	`\bsystem\s*prompt\b`,
	`\b(reveal|print|show|repeat)\b.{0,30}\b(system|hidden|initial)\b.{0,20}\b(prompt|instructions?|message)\b`,
	`\bjailbreak\b`,
	`\bDAN\s+mode\b`,
	`<\s*/?\s*script\b`,
	`javascript\s*:`,
	`\bon(load|error|click)\s*=`,
	`\{\{|\}\}|\{%|%\}`,
	`\[/?INST\]`,
	`<\|(im_start|im_end|system|user|assistant|endoftext)\|>`,
	`<<\s*/?SYS\s*>>`,
	`(?m)^\s*(system|assistant)\s*:`,
}

// Input is a raw request as decoded from the caller.
// Query is accepted as an alias of Question.
type Input struct {
	Question      string `json:"question"`
	Query         string `json:"query"`
	Subject       string `json:"subject"`
	Mode          string `json:"mode"`
	StudentAnswer string `json:"student_answer"`
}

// Validator is the boundary guard that turns raw input into a QueryRequest.
// A Validator is immutable and safe for concurrent use.
type Validator struct {
	minLength int
	maxLength int
	subjects  []string
	denylist  []*regexp.Regexp
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator) error

// WithLengthBounds sets the inclusive character bounds for the question.
func WithLengthBounds(minLength, maxLength int) ValidatorOption {
	return func(v *Validator) error {
		if minLength < 1 || maxLength < minLength {
			return fmt.Errorf("invalid length bounds [%d, %d]", minLength, maxLength)
		}
		v.minLength = minLength
		v.maxLength = maxLength
		return nil
	}
}

// WithInjectionPatterns replaces the denylist. Patterns are compiled case-insensitively.
func WithInjectionPatterns(patterns ...string) ValidatorOption {
	return func(v *Validator) error {
		compiled, err := compilePatterns(patterns)
		if err != nil {
			return err
		}
		v.denylist = compiled
		return nil
	}
}

// NewValidator creates a validator accepting the given subjects.
func NewValidator(subjects []string, opts ...ValidatorOption) (*Validator, error) {
	canonical := make([]string, 0, len(subjects))
	for _, s := range subjects {
		s = core.CanonicalSubject(s)
		if err := core.ValidateSubject(s); err != nil {
			return nil, fmt.Errorf("allowed subjects: %w", err)
		}
		if !slices.Contains(canonical, s) {
			canonical = append(canonical, s)
		}
	}
	if len(canonical) == 0 {
		return nil, fmt.Errorf("allowed subjects: %w", core.ErrEmptySubject)
	}
	slices.Sort(canonical)

	denylist, err := compilePatterns(DefaultInjectionPatterns)
	if err != nil {
		return nil, err
	}

	v := &Validator{
		minLength: DefaultMinLength,
		maxLength: DefaultMaxLength,
		subjects:  canonical,
		denylist:  denylist,
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`(?is)` + p)
		if err != nil {
			return nil, fmt.Errorf("compiling injection pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Subjects returns the allowed subjects, sorted.
func (v *Validator) Subjects() []string {
	return slices.Clone(v.subjects)
}

// Validate checks in and returns the normalised request, or a *ValidationError.
func (v *Validator) Validate(in *Input) (*core.QueryRequest, error) {
	if in == nil {
		return nil, &ValidationError{Field: "question", Message: "question is required"}
	}

	question := strings.TrimSpace(in.Question)
	if question == "" {
		question = strings.TrimSpace(in.Query)
	}
	if question == "" {
		return nil, &ValidationError{Field: "question", Message: "question is required"}
	}
	if n := utf8.RuneCountInString(question); n < v.minLength {
		return nil, &ValidationError{
			Field:   "question",
			Message: fmt.Sprintf("question is too short: %d characters, at least %d required", n, v.minLength),
		}
	} else if n > v.maxLength {
		return nil, &ValidationError{
			Field:   "question",
			Message: fmt.Sprintf("question is too long: %d characters, at most %d allowed", n, v.maxLength),
		}
	}

	answer := strings.TrimSpace(in.StudentAnswer)
	if n := utf8.RuneCountInString(answer); n > v.maxLength {
		return nil, &ValidationError{
			Field:   "student_answer",
			Message: fmt.Sprintf("student answer is too long: %d characters, at most %d allowed", n, v.maxLength),
		}
	}

	if v.unsafe(question) {
		return nil, &ValidationError{Field: "question", Message: "the question contains content that is not allowed"}
	}
	if v.unsafe(answer) {
		return nil, &ValidationError{Field: "student_answer", Message: "the student answer contains content that is not allowed"}
	}

	if strings.TrimSpace(in.Subject) == "" {
		return nil, &ValidationError{Field: "subject", Message: "subject is required"}
	}
	subject := core.CanonicalSubject(in.Subject)
	if !slices.Contains(v.subjects, subject) {
		return nil, &ValidationError{
			Field:   "subject",
			Message: fmt.Sprintf("unknown subject %q; choose one of: %s", in.Subject, strings.Join(v.subjects, ", ")),
		}
	}

	mode, err := core.ParseMode(in.Mode)
	if errors.Is(err, core.ErrEmptyMode) {
		return nil, &ValidationError{Field: "mode", Message: "mode is required"}
	} else if err != nil {
		return nil, &ValidationError{
			Field:   "mode",
			Message: fmt.Sprintf("unknown mode %q; use %q or %q", in.Mode, core.ModeOptimizer, core.ModeEvaluator),
		}
	}

	return &core.QueryRequest{
		Question:      question,
		StudentAnswer: answer,
		Subject:       subject,
		Mode:          mode,
	}, nil
}

func (v *Validator) unsafe(text string) bool {
	if text == "" {
		return false
	}
	folded := foldForMatching(text)
	for _, re := range v.denylist {
		if re.MatchString(text) || re.MatchString(folded) {
			return true
		}
	}
	return false
}

// foldForMatching maps every Unicode space to a single ASCII space and drops
// format characters such as zero-width joiners and soft hyphens.
func foldForMatching(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Cf, r):
			continue
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
			}
			space = true
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return b.String()
}
