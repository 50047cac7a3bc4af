// Package quiz parses the quiz documents authors embed in activity content and
// scores learner responses against them.
//
// Authors write free text containing a fenced block:
//
//	```json
//	{"questions":[{"type":"multiple_choice","question":"...","options":["A","B"],"correct":1}]}
//	```
//
// Parse extracts the first such block and turns it into a typed Document, or
// returns a *ParseError describing the first defect.
package quiz

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
)

// QuestionType is the kind of a quiz question.
type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	FillBlank      QuestionType = "fill_blank"
)

// normalizeType accepts the hyphenated spellings some authors use.
func normalizeType(s string) QuestionType {
	return QuestionType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
}

// Question is one parsed question.
type Question struct {
	Type        QuestionType `json:"type"`
	Prompt      string       `json:"question,omitempty"`
	Options     []string     `json:"options,omitempty"`
	Correct     *int         `json:"correct,omitempty"`
	Answers     []string     `json:"answers,omitempty"`
	Explanation string       `json:"explanation,omitempty"`
}

// Document is a parsed quiz.
type Document struct {
	Title     string     `json:"title,omitempty"`
	Questions []Question `json:"questions"`
}

// Public returns a copy without answer keys or explanations, for learners who
// have not answered yet.
func (d *Document) Public() *Document {
	out := &Document{Title: d.Title, Questions: make([]Question, len(d.Questions))}
	for i, q := range d.Questions {
		out.Questions[i] = Question{Type: q.Type, Prompt: q.Prompt, Options: append([]string(nil), q.Options...)}
	}
	return out
}

// Reason classifies a parse failure.
type Reason string

const (
	ReasonNoBlock           Reason = "no_block"
	ReasonInvalidJSON       Reason = "invalid_json"
	ReasonNoQuestions       Reason = "no_questions"
	ReasonUnknownType       Reason = "unknown_type"
	ReasonTooFewOptions     Reason = "too_few_options"
	ReasonMissingCorrect    Reason = "missing_correct"
	ReasonCorrectOutOfRange Reason = "correct_out_of_range"
	ReasonMissingAnswer     Reason = "missing_answer"
)

// ParseError describes why a quiz document is malformed. Question is the
// zero-based question index, or -1 for document-level defects.
type ParseError struct {
	Reason   Reason
	Question int
	Detail   string
}

func (e *ParseError) Error() string {
	if e.Question >= 0 {
		return fmt.Sprintf("quiz malformed: question %d: %s", e.Question+1, e.Detail)
	}
	return "quiz malformed: " + e.Detail
}

// Is makes errors.Is(err, shared.ErrQuizMalformed) hold.
func (e *ParseError) Is(target error) bool {
	return errors.Is(shared.ErrQuizMalformed, target)
}

var fenced = regexp.MustCompile("(?is)```json[ \\t]*\\r?\\n?(.*?)```")

// ExtractBlock returns the body of the first json-fenced block.
func ExtractBlock(content string) (string, bool) {
	m := fenced.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// rawQuestion also carries the legacy spellings older lessons were authored
// with: question_text, question_type, and correct_answer (an option string or
// a 1-based position). parseQuestion folds them into Question.
type rawQuestion struct {
	Type          string          `json:"type"`
	QuestionType  string          `json:"question_type"`
	Question      string          `json:"question"`
	QuestionText  string          `json:"question_text"`
	Prompt        string          `json:"prompt"`
	Options       []string        `json:"options"`
	Correct       json.RawMessage `json:"correct"`
	CorrectAnswer json.RawMessage `json:"correct_answer"`
	Answer        json.RawMessage `json:"answer"`
	Answers       []string        `json:"answers"`
	Explanation   string          `json:"explanation"`
}

type rawDocument struct {
	Title     string        `json:"title"`
	Questions []rawQuestion `json:"questions"`
}

// Parse extracts and validates the quiz embedded in content.
func Parse(content string) (*Document, error) {
	block, ok := ExtractBlock(content)
	if !ok {
		return nil, &ParseError{Reason: ReasonNoBlock, Question: -1, Detail: "no ```json block found"}
	}
	return ParseJSON([]byte(block))
}

// ParseJSON validates a bare quiz JSON document.
func ParseJSON(data []byte) (*Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Reason: ReasonInvalidJSON, Question: -1, Detail: err.Error()}
	}
	if len(raw.Questions) == 0 {
		return nil, &ParseError{Reason: ReasonNoQuestions, Question: -1, Detail: "questions array is empty or missing"}
	}

	doc := &Document{Title: raw.Title, Questions: make([]Question, 0, len(raw.Questions))}
	for i, rq := range raw.Questions {
		q, err := parseQuestion(i, rq)
		if err != nil {
			return nil, err
		}
		doc.Questions = append(doc.Questions, q)
	}
	return doc, nil
}

func parseQuestion(i int, rq rawQuestion) (Question, error) {
	rawType := firstNonEmpty(rq.Type, rq.QuestionType)
	q := Question{
		Type:        normalizeType(rawType),
		Prompt:      firstNonEmpty(rq.Question, rq.QuestionText, rq.Prompt),
		Options:     rq.Options,
		Explanation: rq.Explanation,
	}
	fail := func(r Reason, format string, args ...any) (Question, error) {
		return Question{}, &ParseError{Reason: r, Question: i, Detail: fmt.Sprintf(format, args...)}
	}

	switch q.Type {
	case MultipleChoice:
		if len(q.Options) < 2 {
			return fail(ReasonTooFewOptions, "multiple_choice needs at least 2 options, got %d", len(q.Options))
		}
		idx, ok, err := choiceIndex(rq, q.Options)
		if err != nil {
			return fail(ReasonCorrectOutOfRange, "%s", err.Error())
		}
		if !ok {
			return fail(ReasonMissingCorrect, "multiple_choice needs an integer correct index")
		}
		if idx < 0 || idx >= len(q.Options) {
			return fail(ReasonCorrectOutOfRange, "correct index %d is out of bounds for %d options", idx, len(q.Options))
		}
		q.Correct = &idx

	case TrueFalse:
		idx, ok := decodeIndex(rq.Correct, true)
		if !ok {
			return fail(ReasonMissingCorrect, "true_false needs correct as true/false or 0/1")
		}
		if idx != 0 && idx != 1 {
			return fail(ReasonCorrectOutOfRange, "true_false correct must be 0 or 1, got %d", idx)
		}
		if len(q.Options) == 0 {
			q.Options = []string{"true", "false"}
		}
		q.Correct = &idx

	case FillBlank:
		answers := make([]string, 0, len(rq.Answers)+2)
		for _, raw := range []json.RawMessage{rq.Answer, rq.CorrectAnswer} {
			if a, ok := decodeString(raw); ok && strings.TrimSpace(a) != "" {
				answers = append(answers, a)
			}
		}
		for _, a := range rq.Answers {
			if strings.TrimSpace(a) != "" {
				answers = append(answers, a)
			}
		}
		if len(answers) == 0 {
			return fail(ReasonMissingAnswer, "fill_blank needs answer or answers")
		}
		q.Answers = answers

	default:
		return fail(ReasonUnknownType, "unknown question type %q", rawType)
	}
	return q, nil
}

// choiceIndex resolves the zero-based correct option of a multiple choice
// question. correct wins over correct_answer, which wins over answer. A string
// names the option it matches, ignoring case and surrounding space. The
// returned index is not bounds-checked.
func choiceIndex(rq rawQuestion, options []string) (int, bool, error) {
	if idx, ok := decodeIndex(rq.Correct, false); ok {
		return idx, true, nil
	}
	for _, raw := range []json.RawMessage{rq.CorrectAnswer, rq.Answer} {
		if s, ok := decodeString(raw); ok {
			idx := optionIndex(options, s)
			if idx < 0 {
				return 0, false, fmt.Errorf("answer %q matches none of the options", s)
			}
			return idx, true, nil
		}
	}
	if pos, ok := decodeIndex(rq.CorrectAnswer, false); ok {
		return pos - 1, true, nil
	}
	if idx, ok := decodeIndex(rq.Answer, false); ok {
		return idx, true, nil
	}
	return 0, false, nil
}

func optionIndex(options []string, s string) int {
	want := strings.ToLower(strings.TrimSpace(s))
	for i, o := range options {
		if strings.ToLower(strings.TrimSpace(o)) == want {
			return i
		}
	}
	return -1
}

func decodeString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// decodeIndex reads an integer index; booleans are accepted when allowBool is
// set and map true to 0 and false to 1.
func decodeIndex(raw json.RawMessage, allowBool bool) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	}
	if allowBool {
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			if b {
				return 0, true
			}
			return 1, true
		}
	}
	return 0, false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Redact replaces the first json block of content with the public form of its
// quiz, so learner-facing content never carries answer keys. A block that does
// not parse is removed.
func Redact(content string) string {
	loc := fenced.FindStringSubmatchIndex(content)
	if loc == nil {
		return content
	}
	body := ""
	if doc, err := ParseJSON([]byte(strings.TrimSpace(content[loc[2]:loc[3]]))); err == nil {
		if b, err := json.Marshal(doc.Public()); err == nil {
			body = "```json\n" + string(b) + "\n```"
		}
	}
	return content[:loc[0]] + body + content[loc[1]:]
}
