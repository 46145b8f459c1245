// Package survey holds the domain model the flow engine operates on:
// surveys, questions with their options/rows/columns, answers, and
// respondent profiles. The structures here are plain data; behaviour lives
// in engine, gate, quota, and progress.
package survey

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/quantai/surveyflow/internal/logic"
)

// RotationMode controls how a question's options are ordered when presented.
type RotationMode string

const (
	RotationNone      RotationMode = ""
	RotationShuffle   RotationMode = "SHUFFLE"
	RotationSubsetOf6 RotationMode = "SUBSET_6"
)

// Survey is a survey (or profiling) project.
type Survey struct {
	ID               int64     `json:"id"`
	Code             string    `json:"code"`
	Title            string    `json:"title"`
	Active           bool      `json:"active"`
	QuotaFull        bool      `json:"quotaFull"`
	QuotaFullMessage string    `json:"quotaFullMessage,omitempty"`
	StartTime        time.Time `json:"startTime"`
	EndTime          time.Time `json:"endTime"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Choice is one selectable option of a question.
type Choice struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Value string `json:"value"`
	Order int    `json:"order"`
}

// Row and Column belong to matrix questions.
type Row struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Order int    `json:"order"`
}

type Column struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Order int    `json:"order"`
}

// Question is a single survey question together with its branching nodes.
type Question struct {
	ID           int64        `json:"id"`
	SurveyID     int64        `json:"surveyId"`
	Variable     string       `json:"variable"`
	Title        string       `json:"title"`
	Type         string       `json:"type"`
	DisplayIndex int          `json:"displayIndex"`
	Initial      bool         `json:"initial"`
	Required     bool         `json:"required"`
	Rotation     RotationMode `json:"rotation,omitempty"`
	Options      []Choice     `json:"options,omitempty"`
	Rows         []Row        `json:"rows,omitempty"`
	Columns      []Column     `json:"columns,omitempty"`
	Nodes        []logic.Node `json:"nodes,omitempty"`
}

// OptionIDs returns the ids of the question's static options in display order.
func (q *Question) OptionIDs() []string {
	ids := make([]string, 0, len(q.Options))
	for _, o := range q.Options {
		ids = append(ids, o.ID)
	}
	return ids
}

// Answer is one submission of a respondent to a question. History is
// append-only: a new answer for the same (respondent, survey, question)
// triple supersedes the previous one by flipping IsLast, never by deleting.
type Answer struct {
	ID           string          `json:"id"`
	SurveyID     int64           `json:"surveyId"`
	QuestionID   int64           `json:"questionId"`
	RespondentID string          `json:"respondentId"`
	Variable     string          `json:"variable"`
	OptionIDs    []string        `json:"optionIds,omitempty"`
	// OptionValues carries the stored values of the selected options,
	// denormalized at persist time so answer values resolve without loading
	// the survey structure (profiling answers have no owning survey).
	OptionValues []string        `json:"optionValues,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	InputRows    map[string]string `json:"inputRows,omitempty"`
	IsLast       bool            `json:"isLast"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ScalarValue extracts a single comparable value from the answer: the sole
// selected option's stored value, the free-form input, or empty.
func (a *Answer) ScalarValue() string {
	if len(a.OptionValues) == 1 {
		return a.OptionValues[0]
	}
	if len(a.Input) > 0 {
		var s string
		if err := json.Unmarshal(a.Input, &s); err == nil {
			return s
		}
		return string(a.Input)
	}
	return ""
}

// Respondent is the slice of a user profile the engine needs: identity, the
// attributes filters may fall back to, and whether the account carries an
// elevated (admin/staff) role.
type Respondent struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Country  string `json:"country"`
	Elevated bool   `json:"elevated"`
}

// Structure is a survey's full static shape: questions ordered by display
// index with nodes and conditions attached. It is what ReadSurveyStructure
// returns and what the resolver operates on.
type Structure struct {
	Survey    Survey     `json:"survey"`
	Questions []Question `json:"questions"`

	byID       map[int64]*Question
	byVariable map[string]*Question
}

// NewStructure builds a Structure, sorting questions by display index and
// indexing them by id and variable.
func NewStructure(s Survey, questions []Question) *Structure {
	qs := make([]Question, len(questions))
	copy(qs, questions)
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].DisplayIndex < qs[j].DisplayIndex })

	st := &Structure{
		Survey:     s,
		Questions:  qs,
		byID:       make(map[int64]*Question, len(qs)),
		byVariable: make(map[string]*Question, len(qs)),
	}
	for i := range st.Questions {
		q := &st.Questions[i]
		st.byID[q.ID] = q
		if q.Variable != "" {
			st.byVariable[q.Variable] = q
		}
	}
	return st
}

// Question returns the question with the given id.
func (st *Structure) Question(id int64) (*Question, bool) {
	q, ok := st.byID[id]
	return q, ok
}

// QuestionByVariable returns the question collecting the given variable.
func (st *Structure) QuestionByVariable(name string) (*Question, bool) {
	q, ok := st.byVariable[name]
	return q, ok
}

// Initial returns the survey's designated first question: the one marked
// initial, else the lowest display index.
func (st *Structure) Initial() *Question {
	for i := range st.Questions {
		if st.Questions[i].Initial {
			return &st.Questions[i]
		}
	}
	if len(st.Questions) == 0 {
		return nil
	}
	return &st.Questions[0]
}

// NextByIndex returns the question with the smallest display index strictly
// greater than the current question's, or nil when the survey ends.
func (st *Structure) NextByIndex(current *Question) *Question {
	for i := range st.Questions {
		if st.Questions[i].DisplayIndex > current.DisplayIndex {
			return &st.Questions[i]
		}
	}
	return nil
}
