package logic

// Operator represents a comparison operator used in branching conditions
// and audience filters.
type Operator string

// Supported operators (string values for clean JSON serialization).
const (
	OpEq          Operator = "EQ"
	OpNeq         Operator = "NEQ"
	OpGt          Operator = "GT"
	OpLt          Operator = "LT"
	OpGte         Operator = "GTE"
	OpLte         Operator = "LTE"
	OpContains    Operator = "CONTAINS"
	OpSelected    Operator = "SELECTED"
	OpNotSelected Operator = "NOT_SELECTED"

	// Filter-only operators: membership of a respondent's selections within
	// a configured option set. Not valid inside node conditions.
	OpIn    Operator = "IN"
	OpNotIn Operator = "NOT_IN"
)

// ComparisonMode selects what a condition compares against: a literal value
// or the resolved value of another variable.
type ComparisonMode string

const (
	CompareConstant ComparisonMode = "CONSTANT"
	CompareVariable ComparisonMode = "VARIABLE"
)

// Combinator describes how a condition combines with its siblings inside a
// node. Conditions are partitioned into an AND group and an OR group; see
// engine.EvaluateNode for the combination rule.
type Combinator string

const (
	CombineAnd Combinator = "AND"
	CombineOr  Combinator = "OR"
)

// Action is what a node does when it fires.
type Action string

const (
	ActionSkipTo      Action = "SKIP_TO"
	ActionDisplayIf   Action = "DISPLAY_IF"
	ActionEndSurvey   Action = "END_SURVEY"
	ActionMaskOptions Action = "MASK_OPTIONS"
)

// VariableScope identifies where a variable's value comes from.
type VariableScope string

const (
	ScopeQuestion VariableScope = "QUESTION"
	ScopeSurvey   VariableScope = "SURVEY"
	ScopeProfile  VariableScope = "PROFILE"
	ScopeCustom   VariableScope = "CUSTOM"
)

// Variable is a named handle for a measurable quantity. Identity is
// (scope, name); logic references variables by identity, so renames
// propagate without name lookups at evaluation time.
type Variable struct {
	ID    int64         `json:"id"`
	Scope VariableScope `json:"scope"`
	Name  string        `json:"name"`
}

// Condition is a single predicate owned by exactly one node.
//
// In CONSTANT mode the condition compares the source variable's resolved
// value against Target (a literal, or an option id for SELECTED and
// NOT_SELECTED). In VARIABLE mode it compares against the resolved value of
// TargetVariable.
type Condition struct {
	SourceVariable string         `json:"sourceVariable"`
	Operator       Operator       `json:"operator"`
	Mode           ComparisonMode `json:"mode"`
	Target         string         `json:"target,omitempty"`
	TargetVariable string         `json:"targetVariable,omitempty"`
	Combinator     Combinator     `json:"combinator"`
}

// Node is a branching rule attached to a question. Nodes are evaluated in
// ascending Priority order; the first firing node's action decides the
// outcome, except MASK_OPTIONS which only narrows presentable options and
// lets evaluation continue.
type Node struct {
	ID               int64       `json:"id"`
	QuestionID       int64       `json:"questionId"`
	Action           Action      `json:"action"`
	TargetQuestionID int64       `json:"targetQuestionId,omitempty"`
	TargetGroupID    int64       `json:"targetGroupId,omitempty"`
	Priority         int         `json:"priority"`
	Conditions       []Condition `json:"conditions"`
	// MaskOptionIDs lists option ids removed from the presentable set when a
	// MASK_OPTIONS node fires. Ignored for other actions.
	MaskOptionIDs []string `json:"maskOptionIds,omitempty"`
}
