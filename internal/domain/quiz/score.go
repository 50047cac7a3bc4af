package quiz

import (
	"encoding/json"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Responses is the learner's captured answer set, positionally aligned with
// the document's questions. Each answer is an option index for
// multiple_choice and true_false (booleans are accepted for true_false) or a
// string for fill_blank. Missing or null entries count as unanswered.
type Responses struct {
	Answers []json.RawMessage `json:"answers"`
}

// DecodeResponses reads responseData. Empty input yields no answers.
func DecodeResponses(data json.RawMessage) (Responses, error) {
	var r Responses
	if len(data) == 0 || string(data) == "null" {
		return r, nil
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return Responses{}, err
	}
	return r, nil
}

// QuestionResult is the grading of one question.
type QuestionResult struct {
	Index    int  `json:"index"`
	Answered bool `json:"answered"`
	Correct  bool `json:"correct"`
}

// Score is the grading of a whole quiz.
type Score struct {
	Correct int              `json:"correct"`
	Total   int              `json:"total"`
	Percent float64          `json:"percent"`
	Results []QuestionResult `json:"results"`
}

// Grade scores responses against the document. Percent is the share of
// correctly answered questions, rounded to a whole number.
func (d *Document) Grade(r Responses) Score {
	s := Score{Total: len(d.Questions), Results: make([]QuestionResult, len(d.Questions))}
	for i, q := range d.Questions {
		res := QuestionResult{Index: i}
		if i < len(r.Answers) && len(r.Answers[i]) > 0 && string(r.Answers[i]) != "null" {
			res.Answered = true
			res.Correct = q.accepts(r.Answers[i])
		}
		if res.Correct {
			s.Correct++
		}
		s.Results[i] = res
	}
	if s.Total > 0 {
		s.Percent = math.Round(float64(s.Correct) * 100 / float64(s.Total))
	}
	return s
}

func (q Question) accepts(answer json.RawMessage) bool {
	switch q.Type {
	case MultipleChoice, TrueFalse:
		idx, ok := decodeIndex(answer, q.Type == TrueFalse)
		return ok && q.Correct != nil && idx == *q.Correct
	case FillBlank:
		var given string
		if err := json.Unmarshal(answer, &given); err != nil {
			return false
		}
		g := normalizeAnswer(given)
		for _, a := range q.Answers {
			if normalizeAnswer(a) == g {
				return true
			}
		}
		return false
	}
	return false
}

// normalizeAnswer makes fill-blank comparison insensitive to Unicode
// composition, case and surrounding or repeated whitespace. Accents still
// matter: "ete" does not match "été".
func normalizeAnswer(s string) string {
	s = norm.NFC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
