package query

import (
	"strings"

	"github.com/poiesic/boardmax/ai"
	"github.com/poiesic/boardmax/core"
)

const (
	// DefaultTemperature keeps answers close to the marking scheme.
	DefaultTemperature = 0.3

	// DefaultMaxTokens bounds the generated answer.
	DefaultMaxTokens = 1024
)

const systemPrompt = "You are an expert CBSE examiner helping students write better answers."

// NoContextNotice is the statement the model is told to make when no
// marking-scheme material was retrieved.
const NoContextNotice = "No official marking-scheme material was found for this subject."

const optimizerInstructions = `You are an expert CBSE examiner and answer optimizer.

Your task: Transform the student's answer into the perfect "Official Marking Scheme" format that maximizes marks.

Rules:
1. Use ONLY information from the provided context (marking scheme)
2. Format: Use bullet points with **bold keywords**
3. Be concise and precise - use marking scheme language
4. Include all key points that would earn marks
5. Maintain factual accuracy from the context`

const evaluatorInstructions = `You are an expert CBSE examiner evaluating a student's answer.

Your task: Evaluate the student's answer against the official marking scheme and provide constructive feedback.

Evaluation criteria:
1. Correctness: Are the concepts accurate?
2. Completeness: Are all key points covered?
3. Clarity: Is the answer well-structured?
4. Keywords: Are important CBSE keywords used?`

const evaluatorFormat = `Provide evaluation in this format:
**Score Estimate:** [X/Y marks]
**Strengths:**
- [List good points]

**Missing Key Points:**
- [List what's missing from marking scheme]

**Suggestions for Improvement:**
- [Actionable advice]`

const optimizerFormat = `Provide the optimized answer in bullet-point format with bold keywords:`

const noContextInstructions = `IMPORTANT: ` + NoContextNotice + `
Start your reply with exactly this sentence: "` + NoContextNotice + `"
Then give only brief, general guidance. Do not invent marking-scheme points, marks or keywords, and do not claim that any guidance comes from the official marking scheme.`

// PromptBuilder renders validated requests into model prompts.
// A PromptBuilder is immutable and safe for concurrent use.
type PromptBuilder struct {
	temperature float64
	maxTokens   int
}

// NewPromptBuilder creates a prompt builder with the given sampling parameters.
// Non-positive maxTokens falls back to DefaultMaxTokens; a negative
// temperature falls back to DefaultTemperature.
func NewPromptBuilder(temperature float64, maxTokens int) *PromptBuilder {
	if temperature < 0 {
		temperature = DefaultTemperature
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &PromptBuilder{temperature: temperature, maxTokens: maxTokens}
}

// Build wraps the context block and the request text in the template for req.Mode.
// An empty block selects the no-context variant.
func (b *PromptBuilder) Build(req *core.QueryRequest, block string) *ai.Prompt {
	var sb strings.Builder

	if req.Mode == core.ModeEvaluator {
		sb.WriteString(evaluatorInstructions)
	} else {
		sb.WriteString(optimizerInstructions)
	}
	sb.WriteString("\n\n")

	block = strings.TrimSpace(block)
	if block == "" {
		sb.WriteString(noContextInstructions)
	} else {
		sb.WriteString("Context from Official Marking Schemes:\n")
		sb.WriteString(block)
	}
	sb.WriteString("\n\n")

	if req.StudentAnswer != "" {
		sb.WriteString("Question:\n")
		sb.WriteString(req.Question)
		sb.WriteString("\n\n")
		sb.WriteString(answerHeading(req.Mode))
		sb.WriteString(req.StudentAnswer)
	} else {
		sb.WriteString(answerHeading(req.Mode))
		sb.WriteString(req.Question)
	}
	sb.WriteString("\n\n")

	if req.Mode == core.ModeEvaluator {
		sb.WriteString(evaluatorFormat)
	} else {
		sb.WriteString(optimizerFormat)
	}

	return &ai.Prompt{
		System:      systemPrompt,
		User:        sb.String(),
		Temperature: b.temperature,
		MaxTokens:   b.maxTokens,
	}
}

func answerHeading(mode core.Mode) string {
	if mode == core.ModeEvaluator {
		return "Student's Answer to Evaluate:\n"
	}
	return "Student's Answer:\n"
}
