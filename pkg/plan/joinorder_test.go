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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/btree"
)

func TestTreeNode(t *testing.T) {
	root := newTreeNode()
	root.relation = NewJoinRelationSet([]uint64{1, 2, 3})
	root.children[1] = newTreeNode()
	root.children[2] = newTreeNode()
	root.children[3] = newTreeNode()
	fmt.Println(root.String())
}

func TestNewJoinRelationSetManager(t *testing.T) {
	m := NewJoinRelationSetManager()
	set := make(UnorderedSet)
	set.insert(1, 2, 3, 4, 5, 6, 7)
	m.getRelation(set)
	set = make(UnorderedSet)
	set.insert(1, 2, 3, 4)
	m.getRelation(set)
	fmt.Println(m)
}

func TestJoinRelationSetInterning(t *testing.T) {
	m := NewJoinRelationSetManager()
	set1 := make(UnorderedSet)
	set1.insert(3, 1, 2)
	set2 := make(UnorderedSet)
	set2.insert(2, 3, 1)
	a := m.getRelation(set1)
	b := m.getRelation(set2)
	//same combination must be the same object
	assert.True(t, a == b)
	assert.Equal(t, []uint64{1, 2, 3}, a.relations)

	c := m.getRelation2(1)
	d := m.getRelation2(1)
	assert.True(t, c == d)

	u := m.union(a, m.getRelation2(9))
	u2 := m.union(m.getRelation2(9), a)
	assert.True(t, u == u2)
	assert.Equal(t, []uint64{1, 2, 3, 9}, u.relations)

	diff := m.difference(u, m.getRelation2(2))
	assert.Equal(t, []uint64{1, 3, 9}, diff.relations)
	diff2 := m.difference(u, m.getRelation2(2))
	assert.True(t, diff == diff2)
}

func TestIsSubset(t *testing.T) {
	super := NewJoinRelationSet([]uint64{1, 2, 3, 5})
	assert.True(t, isSubset(super, NewJoinRelationSet([]uint64{2, 5})))
	assert.True(t, isSubset(super, NewJoinRelationSet([]uint64{1, 2, 3, 5})))
	assert.False(t, isSubset(super, NewJoinRelationSet([]uint64{4})))
	assert.False(t, isSubset(super, NewJoinRelationSet([]uint64{1, 2, 3, 4, 5})))

	assert.True(t, joinRelationSetsIntersect(super, NewJoinRelationSet([]uint64{5, 9})))
	assert.False(t, joinRelationSetsIntersect(super, NewJoinRelationSet([]uint64{4, 9})))
}

func TestGraph(t *testing.T) {
	m := NewJoinRelationSetManager()
	set := make(UnorderedSet)
	set.insert(1, 2, 3, 4, 5, 6, 7)
	jset1 := m.getRelation(set)
	set = make(UnorderedSet)
	set.insert(1, 2, 3, 4)
	jset2 := m.getRelation(set)
	set = make(UnorderedSet)
	set.insert(3, 4, 5)
	jset3 := m.getRelation(set)
	set = make(UnorderedSet)
	set.insert(9, 8)
	jset4 := m.getRelation(set)

	g := NewQueryGraph()
	g.CreateEdge(jset1, jset2, nil)
	g.CreateEdge(jset1, jset3, nil)
	g.CreateEdge(jset4, jset1, nil)
	fmt.Println(g)

	checkConn := func(a, b *JoinRelationSet, has bool) {
		conn := g.getConnection(a, b)
		if has {
			assert.NotNil(t, conn, "must have connection between %v %v", a, b)
		} else {
			assert.Nil(t, conn, "must not have connection between %v %v", a, b)
		}
	}
	checkConn(jset4, jset1, true)
	checkConn(jset1, jset4, false)
	checkConn(jset1, jset2, true)
	checkConn(jset2, jset1, false)
	checkConn(jset1, jset3, true)
	checkConn(jset3, jset1, false)
	checkConn(jset2, jset3, false)
	checkConn(jset3, jset2, false)
	checkConn(jset3, jset4, false)
	checkConn(jset4, jset3, false)
	checkConn(jset4, jset2, false)
	checkConn(jset2, jset4, false)
}

func TestGraphConnectionAggregatesFilters(t *testing.T) {
	m := NewJoinRelationSetManager()
	left := m.getRelation2(0)
	right := m.getRelation2(1)
	f1 := &FilterInfo{filterIndex: 0}
	f2 := &FilterInfo{filterIndex: 1}
	g := NewQueryGraph()
	g.CreateEdge(left, right, f1)
	g.CreateEdge(left, right, f2)
	conn := g.getConnection(left, right)
	assert.NotNil(t, conn)
	assert.Equal(t, 2, len(conn.filters))
}

func TestGetNeighbors(t *testing.T) {
	m := NewJoinRelationSetManager()
	g := NewQueryGraph()
	//0 - 1, 0 - 2, 1 - 3
	g.CreateEdge(m.getRelation2(0), m.getRelation2(1), nil)
	g.CreateEdge(m.getRelation2(1), m.getRelation2(0), nil)
	g.CreateEdge(m.getRelation2(0), m.getRelation2(2), nil)
	g.CreateEdge(m.getRelation2(2), m.getRelation2(0), nil)
	g.CreateEdge(m.getRelation2(1), m.getRelation2(3), nil)
	g.CreateEdge(m.getRelation2(3), m.getRelation2(1), nil)

	excl := make(UnorderedSet)
	neighbors := g.GetNeighbors(m.getRelation2(0), excl)
	assert.Equal(t, []uint64{1, 2}, neighbors)

	excl.insert(1)
	neighbors = g.GetNeighbors(m.getRelation2(0), excl)
	assert.Equal(t, []uint64{2}, neighbors)

	//neighbors of {0,1} without exclusion
	set01 := m.union(m.getRelation2(0), m.getRelation2(1))
	excl = make(UnorderedSet)
	neighbors = g.GetNeighbors(set01, excl)
	assert.Equal(t, []uint64{2, 3}, neighbors)
}

func TestGetNeighborsGapSubset(t *testing.T) {
	m := NewJoinRelationSetManager()
	g := NewQueryGraph()
	//the source {1,3} is not a contiguous run of {1,2,3}
	src := m.getRelation(UnorderedSet{1: true, 3: true})
	g.CreateEdge(src, m.getRelation2(5), nil)
	node := m.getRelation(UnorderedSet{1: true, 2: true, 3: true})
	neighbors := g.GetNeighbors(node, make(UnorderedSet))
	assert.Equal(t, []uint64{5}, neighbors)
}

// a predicate whose sides overlap gets difference edges and no edge
// with an empty endpoint
func TestCreateEdgeOverlappingSides(t *testing.T) {
	joinOrder := NewJoinOrderOptimizer()
	joinOrder.relationMapping[1] = 0
	joinOrder.relationMapping[2] = 1
	left := tcol(1, 0, "t1", "a")
	right := &Expr{
		Typ:        ET_Func,
		SubTyp:     ET_Add,
		IsOperator: true,
		Children:   []*Expr{tcol(1, 0, "t1", "a"), tcol(2, 0, "t2", "b")},
	}
	info := &FilterInfo{}
	joinOrder.createEdge(left, right, info)

	assert.Equal(t, []uint64{0}, info.leftSet.relations)
	assert.Equal(t, []uint64{0, 1}, info.rightSet.relations)
	conn := joinOrder.queryGraph.getConnection(
		joinOrder.setManager.getRelation2(0),
		joinOrder.setManager.getRelation2(1))
	assert.NotNil(t, conn)
	assert.Equal(t, 1, len(conn.filters))
	conn = joinOrder.queryGraph.getConnection(
		joinOrder.setManager.getRelation2(1),
		joinOrder.setManager.getRelation2(0))
	assert.NotNil(t, conn)
}

func TestPlanItem(t *testing.T) {
	plans := btree.NewBTreeG[*planItem](planItemLess)
	m := NewJoinRelationSetManager()
	s1 := m.getRelation(UnorderedSet{1: true, 2: true, 3: true})
	s2 := m.getRelation(UnorderedSet{1: true, 2: true})
	plans.Set(&planItem{set: s1, node: &JoinNode{set: s1}})
	item, has := plans.Get(&planItem{set: s1})
	assert.True(t, has)
	assert.NotNil(t, item.node)
	_, has = plans.Get(&planItem{set: s2})
	assert.False(t, has)
	//same set built again finds the same entry
	s3 := m.getRelation(UnorderedSet{3: true, 2: true, 1: true})
	item, has = plans.Get(&planItem{set: s3})
	assert.True(t, has)
	assert.NotNil(t, item.node)
}

func TestFlipAndNegate(t *testing.T) {
	assert.Equal(t, ET_Equal, flipComparison(ET_Equal))
	assert.Equal(t, ET_NotEqual, flipComparison(ET_NotEqual))
	assert.Equal(t, ET_Greater, flipComparison(ET_Less))
	assert.Equal(t, ET_GreaterEqual, flipComparison(ET_LessEqual))
	assert.Equal(t, ET_Less, flipComparison(ET_Greater))
	assert.Equal(t, ET_LessEqual, flipComparison(ET_GreaterEqual))

	assert.Equal(t, ET_NotEqual, negateComparison(ET_Equal))
	assert.Equal(t, ET_Equal, negateComparison(ET_NotEqual))
	assert.Equal(t, ET_LessEqual, negateComparison(ET_Greater))
	assert.Equal(t, ET_Less, negateComparison(ET_GreaterEqual))
	assert.Equal(t, ET_GreaterEqual, negateComparison(ET_Less))
	assert.Equal(t, ET_Greater, negateComparison(ET_LessEqual))
}

func TestSplitExprsByAnd(t *testing.T) {
	a := tcmp(ET_Equal, tcol(1, 0, "t1", "a"), tcol(2, 0, "t2", "b"))
	b := tcmp(ET_Greater, tcol(1, 1, "t1", "c"), iconst(10))
	and := &Expr{
		Typ:        ET_Func,
		SubTyp:     ET_And,
		IsOperator: true,
		Children:   []*Expr{a, b},
	}
	split := splitExprsByAnd([]*Expr{and})
	assert.Equal(t, 2, len(split))
	assert.Equal(t, a.String(), split[0].String())
	assert.Equal(t, b.String(), split[1].String())
}
