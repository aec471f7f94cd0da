// Package validator implements the broker's Request Validator & Optimizer
// (C1): it rejects queries whose declared result size exceeds the
// configured response limit, and performs an idempotent structural rewrite
// of the filter tree before the request is handed to the table matcher.
package validator

import (
	"fmt"
	"sort"

	"querybroker/internal/broker/model"
	"querybroker/pkg/apperror"
)

// Validate checks the request against the broker's configured response
// limit. If the request carries a group-by, its top-N is checked; otherwise
// the selection size is checked. A violation returns a QueryValidationError;
// the caller renders it synchronously without dispatching anything.
func Validate(req *model.BrokerRequest, responseLimit int) error {
	if err := req.Filter.Validate(); err != nil {
		return apperror.Wrap(err, apperror.CodeQueryValidationError, "malformed filter tree")
	}

	limit := req.ResponseLimit()
	if limit > responseLimit {
		kind := "selection size"
		if req.GroupBy != nil {
			kind = "group-by top-N"
		}
		return apperror.New(
			apperror.CodeQueryValidationError,
			fmt.Sprintf("%s %d exceeds configured response limit %d", kind, limit, responseLimit),
		).WithField(kind)
	}

	return nil
}

// Optimize returns a structurally rewritten copy of req. The rewrite is a
// pure function of its input: simplified filter trees that are already in
// normal form pass through unchanged, so Optimize(Optimize(r)) == Optimize(r).
// The rewrite never changes which rows a server-side evaluation would match.
func Optimize(req *model.BrokerRequest) *model.BrokerRequest {
	optimized := req.Clone()
	optimized.Filter = simplifyFilterTree(optimized.Filter)
	return optimized
}

// simplifyFilterTree rebuilds the filter map with two normalizations
// applied bottom-up: single-child AND/OR collapse into their child, and
// same-operator AND/OR nesting flattens into one node. Value lists on leaf
// comparisons are sorted so two semantically identical filters serialize
// identically.
func simplifyFilterTree(m *model.FilterSubQueryMap) *model.FilterSubQueryMap {
	if m == nil || len(m.Nodes) == 0 {
		return m
	}

	result := model.NewFilterSubQueryMap()
	rootID := simplifyNode(m, m.RootID, result)
	result.RootID = rootID
	return result
}

// simplifyNode simplifies the subtree rooted at id in src, inserts the
// result into dst, and returns the id the simplified subtree was inserted
// under (which may differ from id when a single-child AND/OR collapses).
func simplifyNode(src *model.FilterSubQueryMap, id int32, dst *model.FilterSubQueryMap) int32 {
	node, ok := src.Nodes[id]
	if !ok {
		return id
	}

	if node.Operator != model.FilterOperatorAnd && node.Operator != model.FilterOperatorOr {
		leaf := node.Clone()
		if len(leaf.Values) > 0 {
			sort.Strings(leaf.Values)
		}
		dst.Add(leaf)
		return leaf.ID
	}

	var flatChildren []int32
	for _, childID := range node.ChildIDs {
		simplifiedChildID := simplifyNode(src, childID, dst)
		if child := dst.Nodes[simplifiedChildID]; child != nil && child.Operator == node.Operator {
			flatChildren = append(flatChildren, child.ChildIDs...)
			delete(dst.Nodes, simplifiedChildID)
			continue
		}
		flatChildren = append(flatChildren, simplifiedChildID)
	}

	if len(flatChildren) == 1 {
		return flatChildren[0]
	}

	combined := &model.FilterQuery{
		ID:       node.ID,
		Operator: node.Operator,
		ChildIDs: flatChildren,
	}
	dst.Add(combined)
	return combined.ID
}
