package engine

import (
	"strconv"
	"strings"

	"github.com/quantai/surveyflow/internal/logic"
)

// OperatorHandler evaluates one condition operator against a resolved source
// value and a target literal.
type OperatorHandler interface {
	Check(source Value, target string) bool
}

var operatorHandlers = map[logic.Operator]OperatorHandler{
	logic.OpEq:          equalsHandler{},
	logic.OpNeq:         notEqualsHandler{},
	logic.OpGt:          numericCompareHandler{cmp: func(a, b float64) bool { return a > b }},
	logic.OpLt:          numericCompareHandler{cmp: func(a, b float64) bool { return a < b }},
	logic.OpGte:         numericCompareHandler{cmp: func(a, b float64) bool { return a >= b }},
	logic.OpLte:         numericCompareHandler{cmp: func(a, b float64) bool { return a <= b }},
	logic.OpContains:    containsHandler{},
	logic.OpSelected:    selectedHandler{},
	logic.OpNotSelected: notSelectedHandler{},
}

func getOperatorHandler(op logic.Operator) (OperatorHandler, bool) {
	h, ok := operatorHandlers[op]
	return h, ok
}

// Compare runs a single operator against a resolved value. Exposed for
// filter evaluation, which reuses the same dispatch table as node
// conditions. Unknown operators evaluate false, never raise.
func Compare(op logic.Operator, source Value, target string) bool {
	h, ok := getOperatorHandler(op)
	if !ok {
		return false
	}
	return h.Check(source, target)
}

type equalsHandler struct{}

func (equalsHandler) Check(source Value, target string) bool {
	return source.Scalar == target
}

type notEqualsHandler struct{}

func (notEqualsHandler) Check(source Value, target string) bool {
	return source.Scalar != target
}

// numericCompareHandler parses both sides as floats. A parse failure on
// either side evaluates false rather than raising; the node simply does not
// fire on malformed numeric data.
type numericCompareHandler struct {
	cmp func(a, b float64) bool
}

func (h numericCompareHandler) Check(source Value, target string) bool {
	a, err := strconv.ParseFloat(strings.TrimSpace(source.Scalar), 64)
	if err != nil {
		return false
	}
	b, err := strconv.ParseFloat(strings.TrimSpace(target), 64)
	if err != nil {
		return false
	}
	return h.cmp(a, b)
}

// containsHandler tests target-within-source, case-insensitively.
type containsHandler struct{}

func (containsHandler) Check(source Value, target string) bool {
	return strings.Contains(strings.ToLower(source.Scalar), strings.ToLower(target))
}

type selectedHandler struct{}

func (selectedHandler) Check(source Value, target string) bool {
	for _, id := range source.Options {
		if id == target {
			return true
		}
	}
	return false
}

type notSelectedHandler struct{}

func (notSelectedHandler) Check(source Value, target string) bool {
	return !(selectedHandler{}).Check(source, target)
}
