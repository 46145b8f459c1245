package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/quantai/surveyflow/internal/logic"
	"github.com/quantai/surveyflow/internal/survey"
)

// ErrQuestionNotFound is returned when the current question id is not part
// of the supplied structure.
var ErrQuestionNotFound = errors.New("question not found")

// ResolveNext computes the next question after answering questionID.
//
// The question's nodes are evaluated in ascending priority order. The first
// firing SKIP_TO or DISPLAY_IF node jumps to its target; a firing END_SURVEY
// node terminates. Firing MASK_OPTIONS nodes never decide the outcome: they
// accumulate masked option ids and evaluation continues. When no deciding
// node fires, the fallback is the next question by ascending display index
// strictly greater than the current one, ending the survey when none exists.
//
// Resolution is a pure function of (structure, questionID, ctx): the same
// inputs always yield the same Resolution.
func ResolveNext(st *survey.Structure, questionID int64, ctx Context) (Resolution, error) {
	current, ok := st.Question(questionID)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: id %d", ErrQuestionNotFound, questionID)
	}

	nodes := make([]logic.Node, len(current.Nodes))
	copy(nodes, current.Nodes)
	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Priority < nodes[j].Priority })

	var masked []string
	for _, node := range nodes {
		if !EvaluateNode(node, ctx) {
			continue
		}

		switch node.Action {
		case logic.ActionSkipTo, logic.ActionDisplayIf:
			// A dangling target is a configuration error the authoring layer
			// should have rejected; degrade to "no action fires" here.
			if _, ok := st.Question(node.TargetQuestionID); !ok {
				continue
			}
			return Resolution{
				NextQuestionID:  node.TargetQuestionID,
				Action:          ActionContinue,
				MatchedNode:     node.ID,
				MaskedOptionIDs: masked,
			}, nil

		case logic.ActionEndSurvey:
			return Resolution{
				Action:      ActionTerminate,
				MatchedNode: node.ID,
			}, nil

		case logic.ActionMaskOptions:
			masked = append(masked, node.MaskOptionIDs...)
		}
	}

	next := st.NextByIndex(current)
	if next == nil {
		return Resolution{Action: ActionEndSurvey}, nil
	}
	return Resolution{
		NextQuestionID:  next.ID,
		Action:          ActionContinue,
		MaskedOptionIDs: masked,
	}, nil
}

// BuildAnswerValue converts a submitted answer into the engine value for its
// variable: selected option ids plus a scalar (single selection resolves to
// the option's stored value, free-form input passes through).
func BuildAnswerValue(q *survey.Question, optionIDs []string, input string) Value {
	v := Value{Options: optionIDs, Scalar: input}
	if len(optionIDs) == 1 {
		for _, opt := range q.Options {
			if opt.ID == optionIDs[0] {
				v.Scalar = opt.Value
				break
			}
		}
	}
	return v
}
