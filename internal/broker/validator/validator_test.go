package validator

import (
	"testing"

	"querybroker/internal/broker/model"
	"querybroker/pkg/apperror"
)

func TestValidate_SelectionWithinLimit(t *testing.T) {
	req := &model.BrokerRequest{Selection: &model.Selection{Size: 10}}

	if err := Validate(req, 1000); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidate_SelectionExceedsLimit(t *testing.T) {
	req := &model.BrokerRequest{Selection: &model.Selection{Size: 5000}}

	err := Validate(req, 1000)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if apperror.Code(err) != apperror.CodeQueryValidationError {
		t.Errorf("expected CodeQueryValidationError, got %v", apperror.Code(err))
	}
}

func TestValidate_GroupByTopNExceedsLimit(t *testing.T) {
	req := &model.BrokerRequest{GroupBy: &model.GroupByInfo{TopN: 5000}}

	err := Validate(req, 1000)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if apperror.Code(err) != apperror.CodeQueryValidationError {
		t.Errorf("expected CodeQueryValidationError, got %v", apperror.Code(err))
	}
}

func TestValidate_MalformedFilterTree(t *testing.T) {
	req := &model.BrokerRequest{
		Selection: &model.Selection{Size: 1},
		Filter: &model.FilterSubQueryMap{
			RootID: 1,
			Nodes:  map[int32]*model.FilterQuery{1: {ID: 1, Operator: model.FilterOperatorAnd, ChildIDs: []int32{2}}},
		},
	}

	if err := Validate(req, 1000); err == nil {
		t.Error("expected validation error for dangling child reference")
	}
}

func TestOptimize_CollapsesSingleChildAnd(t *testing.T) {
	req := &model.BrokerRequest{
		Filter: &model.FilterSubQueryMap{
			RootID: 1,
			Nodes: map[int32]*model.FilterQuery{
				1: {ID: 1, Operator: model.FilterOperatorAnd, ChildIDs: []int32{2}},
				2: {ID: 2, Operator: model.FilterOperatorEqual, Column: "a", Values: []string{"1"}},
			},
		},
	}

	optimized := Optimize(req)

	root := optimized.Filter.Root()
	if root == nil || root.Operator != model.FilterOperatorEqual {
		t.Fatalf("expected single-child AND to collapse to its leaf, got %+v", root)
	}
}

func TestOptimize_FlattensNestedAnd(t *testing.T) {
	req := &model.BrokerRequest{
		Filter: &model.FilterSubQueryMap{
			RootID: 1,
			Nodes: map[int32]*model.FilterQuery{
				1: {ID: 1, Operator: model.FilterOperatorAnd, ChildIDs: []int32{2, 3}},
				2: {ID: 2, Operator: model.FilterOperatorAnd, ChildIDs: []int32{4, 5}},
				3: {ID: 3, Operator: model.FilterOperatorEqual, Column: "c", Values: []string{"3"}},
				4: {ID: 4, Operator: model.FilterOperatorEqual, Column: "a", Values: []string{"1"}},
				5: {ID: 5, Operator: model.FilterOperatorEqual, Column: "b", Values: []string{"2"}},
			},
		},
	}

	optimized := Optimize(req)

	root := optimized.Filter.Root()
	if root == nil || root.Operator != model.FilterOperatorAnd {
		t.Fatalf("expected flattened AND root, got %+v", root)
	}
	if len(root.ChildIDs) != 3 {
		t.Errorf("expected 3 flattened children, got %d", len(root.ChildIDs))
	}
}

func TestOptimize_SortsLeafValues(t *testing.T) {
	req := &model.BrokerRequest{
		Filter: &model.FilterSubQueryMap{
			RootID: 1,
			Nodes: map[int32]*model.FilterQuery{
				1: {ID: 1, Operator: model.FilterOperatorIn, Column: "a", Values: []string{"c", "a", "b"}},
			},
		},
	}

	optimized := Optimize(req)

	root := optimized.Filter.Root()
	want := []string{"a", "b", "c"}
	for i, v := range want {
		if root.Values[i] != v {
			t.Errorf("Values[%d] = %s, want %s", i, root.Values[i], v)
		}
	}
}

func TestOptimize_Idempotent(t *testing.T) {
	req := &model.BrokerRequest{
		Filter: &model.FilterSubQueryMap{
			RootID: 1,
			Nodes: map[int32]*model.FilterQuery{
				1: {ID: 1, Operator: model.FilterOperatorAnd, ChildIDs: []int32{2, 3}},
				2: {ID: 2, Operator: model.FilterOperatorAnd, ChildIDs: []int32{4}},
				3: {ID: 3, Operator: model.FilterOperatorEqual, Column: "c", Values: []string{"3"}},
				4: {ID: 4, Operator: model.FilterOperatorEqual, Column: "a", Values: []string{"1"}},
			},
		},
	}

	once := Optimize(req)
	twice := Optimize(once)

	if len(once.Filter.Nodes) != len(twice.Filter.Nodes) {
		t.Fatalf("optimize is not idempotent: %d nodes vs %d nodes", len(once.Filter.Nodes), len(twice.Filter.Nodes))
	}

	onceRoot, twiceRoot := once.Filter.Root(), twice.Filter.Root()
	if onceRoot.Operator != twiceRoot.Operator || len(onceRoot.ChildIDs) != len(twiceRoot.ChildIDs) {
		t.Errorf("optimize is not idempotent at the root: %+v vs %+v", onceRoot, twiceRoot)
	}
}

func TestOptimize_NilFilter(t *testing.T) {
	req := &model.BrokerRequest{Table: "events"}

	optimized := Optimize(req)
	if optimized.Filter != nil {
		t.Error("expected nil filter to remain nil after optimize")
	}
}
