package query

import (
	"regexp"
	"strings"

	"github.com/poiesic/boardmax/core"
)

var (
	thinkBlock    = regexp.MustCompile(`(?is)<think>.*?</think>`)
	unclosedThink = regexp.MustCompile(`(?is)^\s*<think>.*$`)
	excessBlank   = regexp.MustCompile(`\n{3,}`)
)

// FormatAnswer turns raw model output into the answer returned to callers.
// Reasoning blocks some models emit are removed. Output that is empty once
// cleaned yields ErrEmptyAnswer.
func FormatAnswer(raw string, req *core.QueryRequest, sourcesCount int) (*core.Answer, error) {
	text := thinkBlock.ReplaceAllString(raw, "")
	text = unclosedThink.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = excessBlank.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyAnswer
	}

	return &core.Answer{
		Answer:       text,
		Mode:         req.Mode,
		Subject:      req.Subject,
		SourcesCount: sourcesCount,
	}, nil
}
