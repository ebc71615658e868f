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
	"fmt"

	"github.com/xlab/treeprint"
)

type LOT int

const (
	LOT_Project LOT = iota
	LOT_Filter
	LOT_Scan
	LOT_TableFunc
	LOT_Subquery
	LOT_JOIN
	LOT_AggGroup
	LOT_Order
	LOT_Limit
	LOT_Union
	LOT_Except
	LOT_Intersect
)

func (lt LOT) String() string {
	switch lt {
	case LOT_Project:
		return "Project"
	case LOT_Filter:
		return "Filter"
	case LOT_Scan:
		return "Scan"
	case LOT_TableFunc:
		return "TableFunc"
	case LOT_Subquery:
		return "Subquery"
	case LOT_JOIN:
		return "Join"
	case LOT_AggGroup:
		return "Aggregate"
	case LOT_Order:
		return "Order"
	case LOT_Limit:
		return "Limit"
	case LOT_Union:
		return "Union"
	case LOT_Except:
		return "Except"
	case LOT_Intersect:
		return "Intersect"
	default:
		panic(fmt.Sprintf("usp %d", lt))
	}
}

type LOT_JoinType int

const (
	LOT_JoinTypeCross LOT_JoinType = iota
	LOT_JoinTypeLeft
	LOT_JoinTypeRight
	LOT_JoinTypeInner
	LOT_JoinTypeSEMI
	LOT_JoinTypeANTI
	LOT_JoinTypeSINGLE
	LOT_JoinTypeMARK
	LOT_JoinTypeOUTER
)

func (lojt LOT_JoinType) String() string {
	switch lojt {
	case LOT_JoinTypeCross:
		return "cross"
	case LOT_JoinTypeLeft:
		return "left"
	case LOT_JoinTypeRight:
		return "right"
	case LOT_JoinTypeInner:
		return "inner"
	case LOT_JoinTypeSEMI:
		return "semi"
	case LOT_JoinTypeANTI:
		return "anti"
	case LOT_JoinTypeSINGLE:
		return "single"
	case LOT_JoinTypeMARK:
		return "mark"
	case LOT_JoinTypeOUTER:
		return "outer"
	default:
		panic(fmt.Sprintf("usp %d", lojt))
	}
}

type LogicalOperator struct {
	Typ LOT

	// Index is the binder-assigned table index of Scan, TableFunc,
	// Subquery and the group index of AggGroup.
	Index    uint64
	Database string
	Table    string
	Alias    string

	Projects []*Expr
	Filters  []*Expr
	JoinTyp  LOT_JoinType
	// OnConds are the join predicates. resolveJoinConditions turns
	// them into oriented comparisons whose left child refers only to
	// the left input.
	OnConds  []*Expr
	Aggs     []*Expr
	GroupBys []*Expr
	OrderBys []*Expr
	Limit    *Expr

	Children []*LogicalOperator

	Stats            *Stats
	hasEstimatedCard bool
	estimatedCard    uint64
	estimatedProps   *EstimatedProperties
}

func (lo *LogicalOperator) EstimatedCard() uint64 {
	if lo.Typ == LOT_Scan || lo.Typ == LOT_TableFunc {
		if lo.Stats == nil {
			return 1
		}
		return uint64(lo.Stats.RowCount)
	}
	if lo.hasEstimatedCard {
		return lo.estimatedCard
	}
	maxCard := uint64(0)
	for _, child := range lo.Children {
		childCard := child.EstimatedCard()
		maxCard = max(maxCard, childCard)
	}
	lo.hasEstimatedCard = true
	lo.estimatedCard = maxCard
	return lo.estimatedCard
}

func (lo *LogicalOperator) Print(tree treeprint.Tree) {
	if lo == nil {
		return
	}
	switch lo.Typ {
	case LOT_Project:
		tree = tree.AddBranch("Project:")
		tree.AddMetaNode("index", fmt.Sprintf("%d", lo.Index))
		node := tree.AddMetaBranch("exprs", "")
		listExprsToTree(node, lo.Projects)
	case LOT_Filter:
		tree = tree.AddBranch("Filter:")
		node := tree.AddMetaBranch("exprs", "")
		listExprsToTree(node, lo.Filters)
	case LOT_Scan:
		tree = tree.AddBranch("Scan:")
		tree.AddMetaNode("index", fmt.Sprintf("%d", lo.Index))
		tableInfo := ""
		if len(lo.Alias) != 0 && lo.Alias != lo.Table {
			tableInfo = fmt.Sprintf("%v.%v %v", lo.Database, lo.Table, lo.Alias)
		} else {
			tableInfo = fmt.Sprintf("%v.%v", lo.Database, lo.Table)
		}
		tree.AddMetaNode("table", tableInfo)
		if len(lo.Filters) != 0 {
			node := tree.AddBranch("filters")
			listExprsToTree(node, lo.Filters)
		}
		if lo.Stats != nil {
			tree.AddMetaNode("stats", lo.Stats.String())
		}
	case LOT_TableFunc:
		tree = tree.AddBranch("TableFunc:")
		tree.AddMetaNode("index", fmt.Sprintf("%d", lo.Index))
		tree.AddMetaNode("func", lo.Table)
	case LOT_Subquery:
		tree = tree.AddBranch("Subquery:")
		tree.AddMetaNode("index", fmt.Sprintf("%d", lo.Index))
	case LOT_JOIN:
		tree = tree.AddBranch(fmt.Sprintf("Join (%v):", lo.JoinTyp))
		if len(lo.OnConds) > 0 {
			node := tree.AddMetaBranch("On", "")
			listExprsToTree(node, lo.OnConds)
		}
		if lo.estimatedProps != nil {
			tree.AddMetaNode("card", fmt.Sprintf("%v", lo.estimatedProps.getCard()))
		}
	case LOT_AggGroup:
		tree = tree.AddBranch("Aggregate:")
		if len(lo.GroupBys) > 0 {
			node := tree.AddBranch(fmt.Sprintf("groupExprs, index %d", lo.Index))
			listExprsToTree(node, lo.GroupBys)
		}
		if len(lo.Aggs) > 0 {
			node := tree.AddBranch("aggExprs")
			listExprsToTree(node, lo.Aggs)
		}
		if len(lo.Filters) > 0 {
			node := tree.AddBranch("filters")
			listExprsToTree(node, lo.Filters)
		}
	case LOT_Order:
		tree = tree.AddBranch("Order:")
		node := tree.AddMetaBranch("exprs", "")
		listExprsToTree(node, lo.OrderBys)
	case LOT_Limit:
		tree = tree.AddBranch(fmt.Sprintf("Limit: %v", lo.Limit.String()))
	case LOT_Union:
		tree = tree.AddBranch("Union:")
	case LOT_Except:
		tree = tree.AddBranch("Except:")
	case LOT_Intersect:
		tree = tree.AddBranch("Intersect:")
	default:
		panic(fmt.Sprintf("usp %v", lo.Typ))
	}

	for _, child := range lo.Children {
		child.Print(tree)
	}
}

func (lo *LogicalOperator) String() string {
	tree := treeprint.NewWithRoot("LogicalPlan:")
	lo.Print(tree)
	return tree.String()
}

func listExprsToTree(tree treeprint.Tree, exprs []*Expr) {
	for i, e := range exprs {
		tree.AddNode(fmt.Sprintf("%d: %v", i, e.String()))
	}
}

func checkExprIsValid(root *LogicalOperator) {
	if root == nil {
		return
	}
	checkExprs(root.Projects...)
	checkExprs(root.Filters...)
	checkExprs(root.OnConds...)
	checkExprs(root.Aggs...)
	checkExprs(root.GroupBys...)
	checkExprs(root.OrderBys...)
	checkExprs(root.Limit)
	for _, child := range root.Children {
		checkExprIsValid(child)
	}
}

func checkExprs(e ...*Expr) {
	for _, expr := range e {
		if expr == nil {
			continue
		}
		if expr.Typ == ET_Func && expr.SubTyp == ET_Invalid {
			panic("invalid expr")
		}
		if expr.Typ == ET_Func && expr.SubTyp != ET_SubFunc && len(expr.Children) < 1 {
			panic("invalid operator")
		}
	}
}
