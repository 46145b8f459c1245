package logic

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by ValidateNode.
var (
	ErrInvalidAction     = errors.New("invalid action")
	ErrInvalidOperator   = errors.New("invalid operator")
	ErrInvalidCondition  = errors.New("invalid condition")
	ErrInvalidCombinator = errors.New("invalid combinator")
	ErrMissingTarget     = errors.New("missing target")
)

// validOperators is the set of all recognised condition operators.
var validOperators = map[Operator]struct{}{
	OpEq:          {},
	OpNeq:         {},
	OpGt:          {},
	OpLt:          {},
	OpGte:         {},
	OpLte:         {},
	OpContains:    {},
	OpSelected:    {},
	OpNotSelected: {},
}

var validActions = map[Action]struct{}{
	ActionSkipTo:      {},
	ActionDisplayIf:   {},
	ActionEndSurvey:   {},
	ActionMaskOptions: {},
}

// ValidateNode performs strict authoring-time validation of a Node. The
// evaluation engine assumes referential integrity; this is where broken
// configuration gets rejected instead. Pure function, no side effects.
func ValidateNode(n Node) error {
	if _, ok := validActions[n.Action]; !ok {
		return fmt.Errorf("%w: %q is not supported", ErrInvalidAction, n.Action)
	}

	switch n.Action {
	case ActionSkipTo, ActionDisplayIf:
		if n.TargetQuestionID == 0 && n.TargetGroupID == 0 {
			return fmt.Errorf("%w: %s node must reference a target question or group", ErrMissingTarget, n.Action)
		}
	case ActionMaskOptions:
		if len(n.MaskOptionIDs) == 0 {
			return fmt.Errorf("%w: MASK_OPTIONS node must list options to mask", ErrMissingTarget)
		}
	}

	for i, c := range n.Conditions {
		if err := validateCondition(i, c); err != nil {
			return err
		}
	}
	return nil
}

func validateCondition(i int, c Condition) error {
	if c.SourceVariable == "" {
		return fmt.Errorf("%w: condition[%d] source variable must not be empty", ErrInvalidCondition, i)
	}

	if _, ok := validOperators[c.Operator]; !ok {
		return fmt.Errorf("%w: condition[%d] operator %q is not supported", ErrInvalidOperator, i, c.Operator)
	}

	switch c.Combinator {
	case CombineAnd, CombineOr:
	default:
		return fmt.Errorf("%w: condition[%d] combinator %q is not supported", ErrInvalidCombinator, i, c.Combinator)
	}

	switch c.Mode {
	case CompareConstant:
		// SELECTED/NOT_SELECTED compare against an option id carried in Target;
		// everything else compares against the literal. An empty literal is
		// legal for EQ/NEQ (matches empty input) but not for membership tests.
		if (c.Operator == OpSelected || c.Operator == OpNotSelected) && c.Target == "" {
			return fmt.Errorf("%w: condition[%d] %s requires an option id", ErrInvalidCondition, i, c.Operator)
		}
	case CompareVariable:
		if c.TargetVariable == "" {
			return fmt.Errorf("%w: condition[%d] VARIABLE comparison requires a target variable", ErrInvalidCondition, i)
		}
	default:
		return fmt.Errorf("%w: condition[%d] comparison mode %q is not supported", ErrInvalidCondition, i, c.Mode)
	}

	return nil
}
