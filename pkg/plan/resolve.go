// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plan

import (
	"github.com/daviszhen/joinorder/pkg/util"
)

type joinSide int

const (
	joinSideNone joinSide = iota
	joinSideLeft
	joinSideRight
	joinSideBoth
)

func combineJoinSide(left, right joinSide) joinSide {
	if left == joinSideNone {
		return right
	}
	if right == joinSideNone {
		return left
	}
	if left != right {
		return joinSideBoth
	}
	return left
}

// getJoinSide decides which input of a join an expression refers to.
// leftBindings and rightBindings hold the table indexes below the two
// inputs.
func getJoinSide(e *Expr, leftBindings, rightBindings UnorderedSet) joinSide {
	switch e.Typ {
	case ET_Column:
		if e.Depth > 0 {
			//a correlated column cannot be joined on
			return joinSideBoth
		}
		if leftBindings.find(e.ColRef[0]) {
			util.AssertFunc(!rightBindings.find(e.ColRef[0]))
			return joinSideLeft
		}
		util.AssertFunc(rightBindings.find(e.ColRef[0]))
		return joinSideRight
	case ET_Ref:
		//already bound. not usable for reordering
		return joinSideNone
	case ET_Subquery:
		return joinSideBoth
	}
	side := joinSideNone
	for _, child := range e.Children {
		childSide := getJoinSide(child, leftBindings, rightBindings)
		side = combineJoinSide(childSide, side)
	}
	return side
}

// createJoinCondition turns one loose predicate of a join into a
// structured condition, a one-sided filter below the join, or a
// filter above op. op is the current subtree root holding the join.
func createJoinCondition(op, join *LogicalOperator, expr *Expr, leftBindings, rightBindings UnorderedSet) *LogicalOperator {
	totalSide := getJoinSide(expr, leftBindings, rightBindings)
	if totalSide != joinSideBoth {
		//the predicate looks at one side only. it belongs to a filter
		//on that side
		pushSide := 1
		if totalSide == joinSideLeft {
			pushSide = 0
		}
		join.Children[pushSide] = pushFilter(join.Children[pushSide], expr)
		return op
	} else if expr.Typ == ET_Func && expr.SubTyp.isComparison() {
		leftSide := getJoinSide(expr.Children[0], leftBindings, rightBindings)
		rightSide := getJoinSide(expr.Children[1], leftBindings, rightBindings)
		if leftSide != joinSideBoth && rightSide != joinSideBoth {
			//the comparison splits cleanly into a left and a right
			//operand
			if leftSide == joinSideRight {
				expr.Children[0], expr.Children[1] = expr.Children[1], expr.Children[0]
				expr.SubTyp = flipComparison(expr.SubTyp)
			}
			join.OnConds = append(join.OnConds, expr)
			return op
		}
	} else if expr.Typ == ET_Func && expr.SubTyp == ET_Not {
		util.AssertFunc(len(expr.Children) == 1)
		child := expr.Children[0]
		//ON NOT (x = 3) becomes ON (x <> 3). the negated comparison
		//can still drive the join
		if child.Typ == ET_Func && child.SubTyp.canNegate() {
			child.SubTyp = negateComparison(child.SubTyp)
			return createJoinCondition(op, join, child, leftBindings, rightBindings)
		}
	}
	//the predicate looks at both sides but is no usable comparison
	return pushFilter(op, expr)
}

// resolveJoinConditions converts the loose predicate expressions of
// every join in the tree into structured join conditions.
func (joinOrder *JoinOrderOptimizer) resolveJoinConditions(root *LogicalOperator) *LogicalOperator {
	for i, child := range root.Children {
		root.Children[i] = joinOrder.resolveJoinConditions(child)
	}
	if root.Typ == LOT_JOIN && root.JoinTyp != LOT_JoinTypeCross && len(root.OnConds) > 0 {
		join := root
		leftBindings := make(UnorderedSet)
		rightBindings := make(UnorderedSet)
		getTableReferences(join.Children[0], leftBindings)
		getTableReferences(join.Children[1], rightBindings)
		conds := join.OnConds
		join.OnConds = nil
		op := root
		for _, cond := range conds {
			op = createJoinCondition(op, join, cond, leftBindings, rightBindings)
		}
		return op
	}
	return root
}
