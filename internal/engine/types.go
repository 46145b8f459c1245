package engine

// Value is a resolved variable value supplied to condition evaluation. A
// value may be a scalar (string or stringified number), a set of selected
// option ids, or both for single-choice answers.
type Value struct {
	Scalar  string   `json:"scalar,omitempty"`
	Options []string `json:"options,omitempty"`
}

// Context carries every resolved value a single evaluation may touch, keyed
// by variable name. Evaluation never reaches outside the context, which is
// what keeps ResolveNext a pure function.
type Context struct {
	Values map[string]Value
}

// NewContext returns an empty evaluation context.
func NewContext() Context {
	return Context{Values: make(map[string]Value)}
}

// Set records a resolved value for a variable.
func (c Context) Set(variable string, v Value) {
	c.Values[variable] = v
}

// Lookup returns the resolved value for a variable, reporting absence.
func (c Context) Lookup(variable string) (Value, bool) {
	if c.Values == nil {
		return Value{}, false
	}
	v, ok := c.Values[variable]
	return v, ok
}

// ResolveAction describes the outcome of next-question resolution.
type ResolveAction string

const (
	// ActionContinue means a next question exists.
	ActionContinue ResolveAction = "CONTINUE"
	// ActionEndSurvey means the sequential order ran out of questions.
	ActionEndSurvey ResolveAction = "END_SURVEY"
	// ActionTerminate means an explicit END_SURVEY node fired.
	ActionTerminate ResolveAction = "TERMINATE"
)

// Resolution is the deterministic output of ResolveNext.
type Resolution struct {
	// NextQuestionID is zero when the survey ends.
	NextQuestionID int64         `json:"nextQuestionId,omitempty"`
	Action         ResolveAction `json:"action"`
	// MatchedNode is the id of the node that decided the outcome, zero on
	// sequential fallback.
	MatchedNode int64 `json:"matchedNode,omitempty"`
	// MaskedOptionIDs collects options hidden by MASK_OPTIONS nodes that
	// fired during resolution, to be subtracted from the next question's
	// presentable set.
	MaskedOptionIDs []string `json:"maskedOptionIds,omitempty"`
}
