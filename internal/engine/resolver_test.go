package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/quantai/surveyflow/internal/logic"
	"github.com/quantai/surveyflow/internal/survey"
)

func branchingStructure() *survey.Structure {
	return survey.NewStructure(
		survey.Survey{ID: 1, Code: "SV-1", Active: true},
		[]survey.Question{
			{ID: 10, Variable: "age", DisplayIndex: 1, Nodes: []logic.Node{
				{
					ID: 100, QuestionID: 10, Action: logic.ActionEndSurvey, Priority: 1,
					Conditions: []logic.Condition{
						{SourceVariable: "age", Operator: logic.OpLt, Target: "18", Combinator: logic.CombineAnd},
					},
				},
				{
					ID: 101, QuestionID: 10, Action: logic.ActionSkipTo, TargetQuestionID: 40, Priority: 2,
					Conditions: []logic.Condition{
						{SourceVariable: "age", Operator: logic.OpGte, Target: "65", Combinator: logic.CombineAnd},
					},
				},
			}},
			{ID: 20, Variable: "drinks_coffee", DisplayIndex: 2, Nodes: []logic.Node{
				{
					ID: 200, QuestionID: 20, Action: logic.ActionMaskOptions, MaskOptionIDs: []string{"opt_espresso"}, Priority: 1,
					Conditions: []logic.Condition{
						{SourceVariable: "drinks_coffee", Operator: logic.OpSelected, Target: "opt_no", Combinator: logic.CombineAnd},
					},
				},
			}},
			{ID: 30, Variable: "brand", DisplayIndex: 3},
			{ID: 40, Variable: "retired", DisplayIndex: 4},
		},
	)
}

func TestResolveNext(t *testing.T) {
	st := branchingStructure()

	tests := []struct {
		name       string
		questionID int64
		values     map[string]Value
		want       Resolution
	}{
		{
			name:       "terminating node wins by priority",
			questionID: 10,
			values:     map[string]Value{"age": {Scalar: "15"}},
			want:       Resolution{Action: ActionTerminate, MatchedNode: 100},
		},
		{
			name:       "skip node jumps past sequential order",
			questionID: 10,
			values:     map[string]Value{"age": {Scalar: "70"}},
			want:       Resolution{NextQuestionID: 40, Action: ActionContinue, MatchedNode: 101},
		},
		{
			name:       "no node fires falls back to display order",
			questionID: 10,
			values:     map[string]Value{"age": {Scalar: "30"}},
			want:       Resolution{NextQuestionID: 20, Action: ActionContinue},
		},
		{
			name:       "mask node accumulates and continues",
			questionID: 20,
			values:     map[string]Value{"drinks_coffee": {Options: []string{"opt_no"}}},
			want:       Resolution{NextQuestionID: 30, Action: ActionContinue, MaskedOptionIDs: []string{"opt_espresso"}},
		},
		{
			name:       "last question ends survey",
			questionID: 40,
			values:     nil,
			want:       Resolution{Action: ActionEndSurvey},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewContext()
			for k, v := range tt.values {
				ctx.Set(k, v)
			}
			got, err := ResolveNext(st, tt.questionID, ctx)
			if err != nil {
				t.Fatalf("ResolveNext() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ResolveNext() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolveNext_Deterministic(t *testing.T) {
	st := branchingStructure()
	ctx := NewContext()
	ctx.Set("age", Value{Scalar: "70"})

	first, err := ResolveNext(st, 10, ctx)
	if err != nil {
		t.Fatalf("ResolveNext() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		got, err := ResolveNext(st, 10, ctx)
		if err != nil {
			t.Fatalf("ResolveNext() error = %v", err)
		}
		if !reflect.DeepEqual(got, first) {
			t.Fatalf("resolution changed between runs: %+v vs %+v", got, first)
		}
	}
}

func TestResolveNext_DanglingTargetSkipped(t *testing.T) {
	st := survey.NewStructure(
		survey.Survey{ID: 1},
		[]survey.Question{
			{ID: 10, Variable: "q1", DisplayIndex: 1, Nodes: []logic.Node{
				{ID: 100, Action: logic.ActionSkipTo, TargetQuestionID: 999, Priority: 1},
			}},
			{ID: 20, Variable: "q2", DisplayIndex: 2},
		},
	)

	got, err := ResolveNext(st, 10, NewContext())
	if err != nil {
		t.Fatalf("ResolveNext() error = %v", err)
	}
	if got.NextQuestionID != 20 || got.Action != ActionContinue {
		t.Fatalf("expected fallback to question 20, got %+v", got)
	}
}

func TestResolveNext_UnknownQuestion(t *testing.T) {
	st := branchingStructure()
	_, err := ResolveNext(st, 999, NewContext())
	if !errors.Is(err, ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestBuildAnswerValue(t *testing.T) {
	q := &survey.Question{
		ID: 20,
		Options: []survey.Choice{
			{ID: "opt_yes", Value: "yes"},
			{ID: "opt_no", Value: "no"},
		},
	}

	tests := []struct {
		name      string
		optionIDs []string
		input     string
		want      Value
	}{
		{
			name:      "single option resolves stored value",
			optionIDs: []string{"opt_yes"},
			want:      Value{Options: []string{"opt_yes"}, Scalar: "yes"},
		},
		{
			name:      "multi select keeps input scalar",
			optionIDs: []string{"opt_yes", "opt_no"},
			input:     "",
			want:      Value{Options: []string{"opt_yes", "opt_no"}},
		},
		{
			name:  "free-form input passes through",
			input: "35",
			want:  Value{Scalar: "35"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildAnswerValue(q, tt.optionIDs, tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("BuildAnswerValue() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
