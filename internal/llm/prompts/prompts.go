package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/assessor/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

const maxAnswerRunes = 2000

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant represents a judgment prompt variant.
type PromptVariant string

const (
	// PromptStrict accepts only precise answers.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default judgment variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient accepts informal or misspelled answers.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce       sync.Once
	loadErr        error
	judgeTemplates map[PromptVariant]*template.Template
	hintTemplate   *template.Template
	explTemplate   *template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// Data holds template data shared by all prompts. Answer carries the
// student-written text: the submitted answer, wrong answer or follow-up question.
type Data struct {
	QuestionText    string
	ReferenceAnswer string
	Answer          string
}

func load() error {
	loadOnce.Do(func() {
		judgeTemplates = make(map[PromptVariant]*template.Template)
		for v := range validVariants {
			tmpl, err := parse("templates/judge_" + string(v) + ".txt")
			if err != nil {
				loadErr = err
				return
			}
			judgeTemplates[v] = tmpl
		}
		if hintTemplate, loadErr = parse("templates/hint.txt"); loadErr != nil {
			return
		}
		explTemplate, loadErr = parse("templates/explanation.txt")
	})
	return loadErr
}

func parse(name string) (*template.Template, error) {
	content, err := templateFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// BuildJudgePrompt builds the judgment prompt for a submitted answer.
func BuildJudgePrompt(variant PromptVariant, req model.JudgeRequest) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	tmpl, ok := judgeTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	return execute(tmpl, Data{
		QuestionText:    req.QuestionText,
		ReferenceAnswer: req.ReferenceAnswer,
		Answer:          sanitizeAnswer(req.SubmittedAnswer, "[No answer provided]"),
	})
}

// BuildHintPrompt builds the prompt for one generated hint.
func BuildHintPrompt(req model.HintRequest) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	return execute(hintTemplate, Data{
		QuestionText:    req.QuestionText,
		ReferenceAnswer: req.ReferenceAnswer,
		Answer:          sanitizeAnswer(req.WrongAnswer, ""),
	})
}

// BuildExplanationPrompt builds the prompt for a simplified explanation.
func BuildExplanationPrompt(req model.ExplanationRequest) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	return execute(explTemplate, Data{
		QuestionText:    req.QuestionText,
		ReferenceAnswer: req.ReferenceAnswer,
		Answer:          sanitizeAnswer(req.FollowUpQuestion, ""),
	})
}

func execute(tmpl *template.Template, data Data) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer, empty string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return empty
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
