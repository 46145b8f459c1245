// Package engine implements the pure evaluation core: condition evaluation
// through an explicit operator-dispatch table, node evaluation under the
// AND/OR combination rule, and next-question resolution. Everything here is
// a pure function over a supplied Context; no I/O, no hidden state.
package engine

import (
	"github.com/quantai/surveyflow/internal/logic"
)

// EvaluateCondition evaluates one atomic condition against the context.
//
// Missing-value policy: when the source variable has no resolvable value the
// condition evaluates false for every operator except NOT_SELECTED, where
// absence of a selection counts as "not selected". The same policy applies
// to an unresolvable VARIABLE-mode target.
func EvaluateCondition(c logic.Condition, ctx Context) bool {
	source, ok := ctx.Lookup(c.SourceVariable)
	if !ok {
		return c.Operator == logic.OpNotSelected
	}

	target := c.Target
	if c.Mode == logic.CompareVariable {
		tv, ok := ctx.Lookup(c.TargetVariable)
		if !ok {
			return c.Operator == logic.OpNotSelected
		}
		target = tv.Scalar
	}

	return Compare(c.Operator, source, target)
}

// EvaluateNode reports whether a node fires.
//
// Conditions are partitioned into an AND group and an OR group by their own
// combinator. The AND group must be fully true (vacuously true when empty);
// the OR group needs one true member (vacuously false when empty). When both
// groups are present the node fires iff both results hold: the conjunction
// gates the disjunction. The package tests pin this combination rule.
//
// A node with no conditions fires unconditionally.
func EvaluateNode(n logic.Node, ctx Context) bool {
	if len(n.Conditions) == 0 {
		return true
	}

	var andSeen, orSeen, orResult bool
	andResult := true
	for _, c := range n.Conditions {
		result := EvaluateCondition(c, ctx)
		if c.Combinator == logic.CombineOr {
			orSeen = true
			orResult = orResult || result
		} else {
			andSeen = true
			andResult = andResult && result
		}
	}

	switch {
	case andSeen && orSeen:
		return andResult && orResult
	case andSeen:
		return andResult
	default:
		return orResult
	}
}
