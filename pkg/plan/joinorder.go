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
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/tidwall/btree"
	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/daviszhen/joinorder/pkg/util"
)

// The join ordering is pretty much a straight implementation of the paper
// "Dynamic Programming Strikes Back" by Guido Moerkotte and Thomas Neumann.

const DefaultMaxPairs = 10000

func DefaultOptimizerOptions() util.OptimizerOptions {
	return util.OptimizerOptions{
		MaxPairs:          DefaultMaxPairs,
		SmallerRelOnRight: true,
	}
}

type SingleJoinRelation struct {
	op     *LogicalOperator
	parent *LogicalOperator
}

type JoinRelationSet struct {
	relations []uint64
}

func NewJoinRelationSet(rels []uint64) *JoinRelationSet {
	ret := &JoinRelationSet{relations: util.CopyTo(rels)}
	ret.sort()
	return ret
}

func (irs *JoinRelationSet) sort() {
	sort.Slice(irs.relations, func(i, j int) bool {
		return irs.relations[i] < irs.relations[j]
	})
}

func (irs *JoinRelationSet) count() int {
	return len(irs.relations)
}

// isSubset returns true if sub is contained in super.
// both are sorted.
func isSubset(super, sub *JoinRelationSet) bool {
	if len(sub.relations) > len(super.relations) {
		return false
	}
	j := 0
	for i := 0; i < len(super.relations); i++ {
		if sub.relations[j] == super.relations[i] {
			j++
			if j == len(sub.relations) {
				return true
			}
		}
	}
	return false
}

func joinRelationSetsIntersect(a, b *JoinRelationSet) bool {
	i, j := 0, 0
	for i < len(a.relations) && j < len(b.relations) {
		if a.relations[i] == b.relations[j] {
			return true
		} else if a.relations[i] < b.relations[j] {
			i++
		} else {
			j++
		}
	}
	return false
}

func (irs *JoinRelationSet) String() string {
	if irs == nil {
		return ""
	}
	bb := strings.Builder{}
	bb.WriteString("[")
	for i, r := range irs.relations {
		if i > 0 {
			bb.WriteString(", ")
		}
		bb.WriteString(fmt.Sprintf("%d", r))
	}
	bb.WriteString("]")
	return bb.String()
}

type UnorderedSet map[uint64]bool

func (set UnorderedSet) orderedKeys() []uint64 {
	keys := make([]uint64, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})
	return keys
}

func (set UnorderedSet) insert(keys ...uint64) {
	for _, key := range keys {
		set[key] = true
	}
}

func (set UnorderedSet) find(key uint64) bool {
	_, has := set[key]
	return has
}

func (set UnorderedSet) clear() {
	for key := range set {
		delete(set, key)
	}
}

func (set UnorderedSet) empty() bool {
	return len(set) == 0
}

func (set UnorderedSet) size() int {
	return len(set)
}

func (set UnorderedSet) copy() UnorderedSet {
	ret := make(UnorderedSet, len(set))
	for key := range set {
		ret[key] = true
	}
	return ret
}

func isDisjoint(a, b UnorderedSet) bool {
	for key := range a {
		if b.find(key) {
			return false
		}
	}
	return true
}

type treeNode struct {
	relation *JoinRelationSet
	children map[uint64]*treeNode
}

func newTreeNode() *treeNode {
	return &treeNode{children: make(map[uint64]*treeNode)}
}

func (node *treeNode) Print(tree treeprint.Tree) {
	if node == nil {
		return
	}
	tree = tree.AddMetaNode("relations", node.relation.String())
	for key, child := range node.children {
		child.Print(tree.AddMetaBranch("child", key))
	}
}

func (node *treeNode) String() string {
	tree := treeprint.New()
	node.Print(tree)
	return tree.String()
}

// JoinRelationSetManager interns relation sets in a trie. the same
// combination of relations always maps to the same *JoinRelationSet.
type JoinRelationSetManager struct {
	root *treeNode
}

func NewJoinRelationSetManager() *JoinRelationSetManager {
	ret := &JoinRelationSetManager{
		root: newTreeNode(),
	}
	return ret
}

func (jrsm *JoinRelationSetManager) union(left, right *JoinRelationSet) *JoinRelationSet {
	dedup := make(UnorderedSet)
	dedup.insert(left.relations...)
	dedup.insert(right.relations...)
	return jrsm.getRelation(dedup)
}

// difference keeps the relations of left that are not in right.
func (jrsm *JoinRelationSetManager) difference(left, right *JoinRelationSet) *JoinRelationSet {
	dedup := make(UnorderedSet)
	dedup.insert(left.relations...)
	for _, rel := range right.relations {
		delete(dedup, rel)
	}
	return jrsm.getRelation(dedup)
}

func (jrsm *JoinRelationSetManager) getRelation(relations UnorderedSet) *JoinRelationSet {
	curNode := jrsm.root
	keys := relations.orderedKeys()
	for _, relId := range keys {
		if next, has := curNode.children[relId]; !has {
			next = newTreeNode()
			curNode.children[relId] = next
			curNode = next
		} else {
			curNode = next
		}
	}
	if curNode.relation == nil {
		curNode.relation = NewJoinRelationSet(keys)
	}
	return curNode.relation
}

func (jrsm *JoinRelationSetManager) getRelation2(relation uint64) *JoinRelationSet {
	set := make(UnorderedSet)
	set[relation] = true
	return jrsm.getRelation(set)
}

func (jrsm *JoinRelationSetManager) String() string {
	return jrsm.root.String()
}

type FilterInfo struct {
	set         *JoinRelationSet
	filterIndex int
	leftSet     *JoinRelationSet
	rightSet    *JoinRelationSet
}

type neighborInfo struct {
	neighbor *JoinRelationSet
	filters  []*FilterInfo
}

func (neigh *neighborInfo) appendFilter(f *FilterInfo) {
	neigh.filters = append(neigh.filters, f)
}

type queryEdge struct {
	neighbors []*neighborInfo
	children  map[uint64]*queryEdge
}

func (edge *queryEdge) Print(prefix []uint64) string {
	source := strings.Builder{}
	source.WriteByte('[')
	for i, u := range prefix {
		if i > 0 {
			source.WriteByte(',')
		}
		source.WriteString(fmt.Sprintf("%d", u))
	}
	source.WriteByte(']')

	sb := strings.Builder{}
	for _, neighbor := range edge.neighbors {
		sb.WriteString(fmt.Sprintf("%s -> %s\n", source.String(), neighbor.neighbor.String()))
	}
	for k, v := range edge.children {
		newPrefix := util.CopyTo(prefix)
		newPrefix = append(newPrefix, k)
		sb.WriteString(v.Print(newPrefix))
	}
	return sb.String()
}

func (edge *queryEdge) String() string {
	return edge.Print([]uint64{})
}

func newQueryEdge() *queryEdge {
	return &queryEdge{
		children: make(map[uint64]*queryEdge),
	}
}

type QueryGraph struct {
	root *queryEdge
}

func NewQueryGraph() *QueryGraph {
	return &QueryGraph{
		root: newQueryEdge(),
	}
}

func (graph *QueryGraph) String() string {
	return graph.root.String()
}

func (graph *QueryGraph) getQueryEdge(set *JoinRelationSet) *queryEdge {
	info := graph.root
	for _, rel := range set.relations {
		if next, has := info.children[rel]; !has {
			info.children[rel] = newQueryEdge()
			info = info.children[rel]
		} else {
			info = next
		}
	}
	return info
}

func (graph *QueryGraph) CreateEdge(left, right *JoinRelationSet, info *FilterInfo) {
	node := graph.getQueryEdge(left)
	for _, neighbor := range node.neighbors {
		if neighbor.neighbor == right {
			if info != nil {
				neighbor.appendFilter(info)
			}
			return
		}
	}
	newNode := &neighborInfo{
		neighbor: right,
	}
	if info != nil {
		newNode.appendFilter(info)
	}
	node.neighbors = append(node.neighbors, newNode)
}

// enumNeighbors runs the callback on every edge whose source is a
// subset of node. the trie walk may skip elements of node so that
// sources like {0,2} are found below {0,1,2} as well.
func (graph *QueryGraph) enumNeighbors(node *JoinRelationSet, callback func(info *neighborInfo) bool) {
	graph.enumNeighborsDFS(node, graph.root, 0, callback)
}

func (graph *QueryGraph) enumNeighborsDFS(node *JoinRelationSet, info *queryEdge, index int, callback func(info *neighborInfo) bool) bool {
	for _, neighbor := range info.neighbors {
		if callback(neighbor) {
			return true
		}
	}
	for i := index; i < len(node.relations); i++ {
		if next, has := info.children[node.relations[i]]; has {
			if graph.enumNeighborsDFS(node, next, i+1, callback) {
				return true
			}
		}
	}
	return false
}

// GetNeighbors returns the smallest member of every neighbor set of
// node that does not overlap node or the exclusion set. the result is
// deduplicated and sorted. returning only the smallest member keeps
// the csg-cmp enumeration free of duplicates.
func (graph *QueryGraph) GetNeighbors(node *JoinRelationSet, excludeSet UnorderedSet) []uint64 {
	dedup := make(UnorderedSet)
	graph.enumNeighbors(node, func(info *neighborInfo) bool {
		if !joinRelationSetsIntersect(info.neighbor, node) &&
			!joinRelationSetIsExcluded(info.neighbor, excludeSet) {
			dedup.insert(info.neighbor.relations[0])
		}
		return false
	})
	return dedup.orderedKeys()
}

// getConnection aggregates every edge between subsets of node and
// subsets of other into a single neighbor info. nil means the two
// sets are not connected.
func (graph *QueryGraph) getConnection(node, other *JoinRelationSet) (conn *neighborInfo) {
	graph.enumNeighbors(node, func(info *neighborInfo) bool {
		if isSubset(other, info.neighbor) {
			if conn == nil {
				conn = &neighborInfo{neighbor: info.neighbor}
			}
			conn.filters = append(conn.filters, info.filters...)
		}
		return false
	})
	return
}

func joinRelationSetIsExcluded(node *JoinRelationSet, set UnorderedSet) bool {
	for _, rel := range node.relations {
		if set.find(rel) {
			return true
		}
	}
	return false
}

type JoinNode struct {
	set            *JoinRelationSet
	info           *neighborInfo
	left, right    *JoinNode
	baseCard       float64
	estimatedProps *EstimatedProperties
}

func NewJoinNode(set *JoinRelationSet, baseCard float64) *JoinNode {
	return &JoinNode{
		set:            set,
		baseCard:       baseCard,
		estimatedProps: NewEstimatedProperties(baseCard, 0),
	}
}

func (jnode *JoinNode) getCard() float64 {
	return jnode.estimatedProps.getCard()
}

func (jnode *JoinNode) getBaseCard() float64 {
	return jnode.baseCard
}

func (jnode *JoinNode) getCost() float64 {
	return jnode.estimatedProps.getCost()
}

type NodeOp struct {
	node *JoinNode
	op   *LogicalOperator
}

type planItem struct {
	set  *JoinRelationSet
	node *JoinNode
}

func planItemLess(a, b *planItem) bool {
	return slices.Compare(a.set.relations, b.set.relations) < 0
}

type JoinOrderOptimizer struct {
	opts      util.OptimizerOptions
	relations []*SingleJoinRelation
	//table index -> relation id
	relationMapping map[uint64]uint64
	filters         []*Expr
	filterInfos     []*FilterInfo
	setManager      *JoinRelationSetManager
	queryGraph      *QueryGraph
	plans           *btree.BTreeG[*planItem]
	pairs           uint64
}

func NewJoinOrderOptimizer() *JoinOrderOptimizer {
	return NewJoinOrderOptimizerWithOptions(DefaultOptimizerOptions())
}

func NewJoinOrderOptimizerWithOptions(opts util.OptimizerOptions) *JoinOrderOptimizer {
	if opts.MaxPairs == 0 {
		opts.MaxPairs = DefaultMaxPairs
	}
	return &JoinOrderOptimizer{
		opts:            opts,
		relationMapping: make(map[uint64]uint64),
		setManager:      NewJoinRelationSetManager(),
		plans:           btree.NewBTreeG[*planItem](planItemLess),
		queryGraph:      NewQueryGraph(),
	}
}

func (joinOrder *JoinOrderOptimizer) Optimize(root *LogicalOperator) (*LogicalOperator, error) {
	//the optimizer is single shot. it must not be reused
	util.AssertFunc(len(joinOrder.filters) == 0 && len(joinOrder.relations) == 0)
	canReorder, filterOps, err := joinOrder.extractJoinRelations(root, nil)
	if err != nil {
		return nil, err
	}
	if !canReorder || len(joinOrder.relations) <= 1 {
		return joinOrder.resolveJoinConditions(root), nil
	}

	//take the filters out of the collected operators
	for _, filterOp := range filterOps {
		switch filterOp.Typ {
		case LOT_JOIN:
			util.AssertFunc(filterOp.JoinTyp == LOT_JoinTypeInner)
			joinOrder.filters = append(joinOrder.filters, splitExprsByAnd(filterOp.OnConds)...)
			filterOp.OnConds = nil
		case LOT_Filter:
			joinOrder.filters = append(joinOrder.filters, splitExprsByAnd(filterOp.Filters)...)
			filterOp.Filters = nil
		default:
			panic(fmt.Sprintf("usp op type %d", filterOp.Typ))
		}
	}

	//create query graph edges from the filters
	for i, filter := range joinOrder.filters {
		filterRelations := make(UnorderedSet)
		joinOrder.collectRelations(filter, filterRelations)
		filterSet := joinOrder.setManager.getRelation(filterRelations)
		info := &FilterInfo{
			set:         filterSet,
			filterIndex: i,
		}
		joinOrder.filterInfos = append(joinOrder.filterInfos, info)
		//only a comparison can become a join predicate
		if filter.Typ == ET_Func && filter.SubTyp.isComparison() {
			joinOrder.createEdge(filter.Children[0], filter.Children[1], info)
		}
	}

	util.Debug("join order",
		zap.Int("relations", len(joinOrder.relations)),
		zap.Int("filters", len(joinOrder.filters)))

	//init the leaf plans
	nodesOpts := make([]*NodeOp, 0, len(joinOrder.relations))
	for i, relation := range joinOrder.relations {
		set := joinOrder.setManager.getRelation2(uint64(i))
		nodesOpts = append(nodesOpts, &NodeOp{
			node: NewJoinNode(set, float64(relation.op.EstimatedCard())),
			op:   relation.op,
		})
	}
	for _, nodeOp := range nodesOpts {
		joinOrder.plans.Set(&planItem{set: nodeOp.node.set, node: nodeOp.node})
	}

	err = joinOrder.solveJoinOrder()
	if err != nil {
		return nil, err
	}

	//get the plan of the total relation set
	relations := make(UnorderedSet)
	for i := 0; i < len(joinOrder.relations); i++ {
		relations.insert(uint64(i))
	}
	set := joinOrder.setManager.getRelation(relations)
	final := joinOrder.getPlan(set)
	if final == nil {
		//the query graph is disjoint. connect the components with
		//cross products and solve again
		util.Debug("disjoint query graph. adding cross products")
		joinOrder.generateCrossProducts()
		err = joinOrder.solveJoinOrder()
		if err != nil {
			return nil, err
		}
		final = joinOrder.getPlan(set)
		if final == nil {
			return nil, errors.New("no plan for the total relation set")
		}
	}
	return joinOrder.rewritePlan(root, final)
}

func (joinOrder *JoinOrderOptimizer) createEdge(left, right *Expr, info *FilterInfo) {
	leftRelations := make(UnorderedSet)
	rightRelations := make(UnorderedSet)
	joinOrder.collectRelations(left, leftRelations)
	joinOrder.collectRelations(right, rightRelations)
	if leftRelations.empty() || rightRelations.empty() {
		return
	}
	info.leftSet = joinOrder.setManager.getRelation(leftRelations)
	info.rightSet = joinOrder.setManager.getRelation(rightRelations)
	if info.leftSet == info.rightSet {
		return
	}
	if isDisjoint(leftRelations, rightRelations) {
		joinOrder.queryGraph.CreateEdge(info.leftSet, info.rightSet, info)
		joinOrder.queryGraph.CreateEdge(info.rightSet, info.leftSet, info)
	} else {
		//the sides overlap. connect each side with the part of the
		//other side it does not contain. this avoids a self loop for
		//predicates like a.x = a.x + b.y
		leftDifference := joinOrder.setManager.difference(info.leftSet, info.rightSet)
		rightDifference := joinOrder.setManager.difference(info.rightSet, info.leftSet)
		//one side may be contained in the other. an edge needs two
		//non-empty endpoints
		if rightDifference.count() > 0 {
			// LEFT <-> RIGHT \ LEFT
			joinOrder.queryGraph.CreateEdge(info.leftSet, rightDifference, info)
			joinOrder.queryGraph.CreateEdge(rightDifference, info.leftSet, info)
		}
		if leftDifference.count() > 0 {
			// RIGHT <-> LEFT \ RIGHT
			joinOrder.queryGraph.CreateEdge(leftDifference, info.rightSet, info)
			joinOrder.queryGraph.CreateEdge(info.rightSet, leftDifference, info)
		}
	}
}

// collectRelations gathers the relations an expression refers to.
// false means the expression must not take part in reordering. the
// set is left empty in that case.
func (joinOrder *JoinOrderOptimizer) collectRelations(e *Expr, set UnorderedSet) bool {
	switch e.Typ {
	case ET_Column:
		if e.Depth > 0 {
			//correlated column
			set.clear()
			return false
		}
		relId, has := joinOrder.relationMapping[e.ColRef[0]]
		if !has {
			panic(fmt.Sprintf("there is no table index %d in relation mapping", e.ColRef[0]))
		}
		set.insert(relId)
	case ET_Ref:
		//already resolved positional slot
		set.clear()
		return false
	case ET_Subquery:
		if e.Correlated {
			set.clear()
			return false
		}
		//an uncorrelated subquery refers to no relation here
		return true
	}
	for _, child := range e.Children {
		if !joinOrder.collectRelations(child, set) {
			set.clear()
			return false
		}
	}
	return true
}

func (joinOrder *JoinOrderOptimizer) extractJoinRelations(root, parent *LogicalOperator) (canReorder bool, filterOps []*LogicalOperator, err error) {
	op := root
	for len(op.Children) == 1 && op.Typ != LOT_Subquery {
		if op.Typ == LOT_Filter {
			filterOps = append(filterOps, op)
		}
		if op.Typ == LOT_AggGroup {
			//never push filters through an aggregate. optimize the
			//child in its own pass
			optimizer := NewJoinOrderOptimizerWithOptions(joinOrder.opts)
			op.Children[0], err = optimizer.Optimize(op.Children[0])
			if err != nil {
				return false, nil, err
			}
			return false, filterOps, nil
		}
		op = op.Children[0]
	}
	if op.Typ == LOT_Union || op.Typ == LOT_Except || op.Typ == LOT_Intersect {
		//set operation. optimize the children separately
		for i, child := range op.Children {
			optimizer := NewJoinOrderOptimizerWithOptions(joinOrder.opts)
			op.Children[i], err = optimizer.Optimize(child)
			if err != nil {
				return false, nil, err
			}
		}
		return false, filterOps, nil
	}

	if op.Typ == LOT_JOIN {
		if op.JoinTyp == LOT_JoinTypeInner {
			filterOps = append(filterOps, op)
		} else if op.JoinTyp != LOT_JoinTypeCross {
			//non-inner joins are not reordered and no condition may
			//move through them. optimize the children separately and
			//treat the whole join as one opaque relation
			for i, child := range op.Children {
				optimizer := NewJoinOrderOptimizerWithOptions(joinOrder.opts)
				op.Children[i], err = optimizer.Optimize(child)
				if err != nil {
					return false, nil, err
				}
			}
			bindings := make(UnorderedSet)
			getTableReferences(op, bindings)
			relation := &SingleJoinRelation{op: root, parent: parent}
			relId := uint64(len(joinOrder.relations))
			for tabId := range bindings {
				joinOrder.relationMapping[tabId] = relId
			}
			joinOrder.relations = append(joinOrder.relations, relation)
			return true, filterOps, nil
		}
	}
	switch op.Typ {
	case LOT_JOIN:
		//inner join or cross product
		childReorder, childFilters, err := joinOrder.extractJoinRelations(op.Children[0], op)
		filterOps = append(filterOps, childFilters...)
		if err != nil || !childReorder {
			return false, filterOps, err
		}
		childReorder, childFilters, err = joinOrder.extractJoinRelations(op.Children[1], op)
		filterOps = append(filterOps, childFilters...)
		if err != nil || !childReorder {
			return false, filterOps, err
		}
		return true, filterOps, nil
	case LOT_Scan, LOT_TableFunc:
		relation := &SingleJoinRelation{op: root, parent: parent}
		joinOrder.relationMapping[op.Index] = uint64(len(joinOrder.relations))
		joinOrder.relations = append(joinOrder.relations, relation)
		return true, filterOps, nil
	case LOT_Subquery:
		//optimize the subquery in its own pass, then use it as a
		//relation
		optimizer := NewJoinOrderOptimizerWithOptions(joinOrder.opts)
		op.Children[0], err = optimizer.Optimize(op.Children[0])
		if err != nil {
			return false, nil, err
		}
		relation := &SingleJoinRelation{op: root, parent: parent}
		joinOrder.relationMapping[op.Index] = uint64(len(joinOrder.relations))
		joinOrder.relations = append(joinOrder.relations, relation)
		return true, filterOps, nil
	default:
		return false, filterOps, nil
	}
}

// getTableReferences collects the table indexes of the leaves below op.
func getTableReferences(op *LogicalOperator, bindings UnorderedSet) {
	switch op.Typ {
	case LOT_Scan, LOT_TableFunc, LOT_Subquery:
		bindings.insert(op.Index)
	default:
		for _, child := range op.Children {
			getTableReferences(child, bindings)
		}
	}
}

func (joinOrder *JoinOrderOptimizer) getPlan(set *JoinRelationSet) *JoinNode {
	item, has := joinOrder.plans.Get(&planItem{set: set})
	if !has {
		return nil
	}
	return item.node
}

func (joinOrder *JoinOrderOptimizer) solveJoinOrder() error {
	ok, err := joinOrder.solveJoinOrderExactly()
	if err != nil {
		return err
	}
	if !ok {
		util.Debug("exact join enumeration exceeded the pair budget. falling back to greedy",
			zap.Uint64("pairs", joinOrder.pairs))
		return joinOrder.solveJoinOrderApproximately()
	}
	return nil
}

func updateExclusionSet(node *JoinRelationSet, exclusionSet UnorderedSet) {
	exclusionSet.insert(node.relations...)
}

// createJoinTree combines two plans into a join candidate. the side
// with the smaller cardinality becomes the right (build) child.
func (joinOrder *JoinOrderOptimizer) createJoinTree(set *JoinRelationSet, info *neighborInfo, left, right *JoinNode) *JoinNode {
	if joinOrder.opts.SmallerRelOnRight && left.getBaseCard() < right.getBaseCard() {
		return joinOrder.createJoinTree(set, info, right, left)
	}
	var expectedCard float64
	if info == nil || len(info.filters) == 0 {
		//cross product
		expectedCard = left.getCard() * right.getCard()
	} else {
		//normal join. expect a foreign key join
		expectedCard = max(left.getCard(), right.getCard())
	}
	cost := expectedCard + left.getCost() + right.getCost()
	return &JoinNode{
		set:            set,
		info:           info,
		left:           left,
		right:          right,
		baseCard:       expectedCard,
		estimatedProps: NewEstimatedProperties(expectedCard, cost),
	}
}

func (joinOrder *JoinOrderOptimizer) emitPair(left, right *JoinRelationSet, info *neighborInfo) (*JoinNode, error) {
	leftPlan := joinOrder.getPlan(left)
	if leftPlan == nil {
		return nil, errors.New("left plan is nil " + left.String())
	}
	rightPlan := joinOrder.getPlan(right)
	if rightPlan == nil {
		return nil, errors.New("right plan is nil " + right.String())
	}
	newSet := joinOrder.setManager.union(left, right)
	newPlan := joinOrder.createJoinTree(newSet, info, leftPlan, rightPlan)
	entry := joinOrder.getPlan(newSet)
	if entry == nil || newPlan.getCost() < entry.getCost() {
		joinOrder.plans.Set(&planItem{set: newSet, node: newPlan})
		return newPlan, nil
	}
	return entry, nil
}

func (joinOrder *JoinOrderOptimizer) tryEmitPair(left, right *JoinRelationSet, info *neighborInfo) (bool, error) {
	joinOrder.pairs++
	if joinOrder.pairs >= joinOrder.opts.MaxPairs {
		//the enumeration got too big. give up on the exact solution
		return false, nil
	}
	_, err := joinOrder.emitPair(left, right, info)
	return err == nil, err
}

func (joinOrder *JoinOrderOptimizer) emitCsg(node *JoinRelationSet) (bool, error) {
	//exclude the subgraph itself and everything below its smallest
	//member
	exclusionSet := make(UnorderedSet)
	for i := uint64(0); i < node.relations[0]; i++ {
		exclusionSet.insert(i)
	}
	updateExclusionSet(node, exclusionSet)
	neighbors := joinOrder.queryGraph.GetNeighbors(node, exclusionSet)
	if len(neighbors) == 0 {
		return true, nil
	}
	for _, neighbor := range neighbors {
		//the neighbor list only carries the smallest member of each
		//neighbor set. a connectedness check is still required before
		//the pair can be emitted
		neighborRel := joinOrder.setManager.getRelation2(neighbor)
		connection := joinOrder.queryGraph.getConnection(node, neighborRel)
		if connection != nil {
			ok, err := joinOrder.tryEmitPair(node, neighborRel, connection)
			if err != nil || !ok {
				return ok, err
			}
		}
		ok, err := joinOrder.enumerateCmpRecursive(node, neighborRel, exclusionSet)
		if err != nil || !ok {
			return ok, err
		}
	}
	return true, nil
}

func (joinOrder *JoinOrderOptimizer) enumerateCmpRecursive(left, right *JoinRelationSet, exclusionSet UnorderedSet) (bool, error) {
	neighbors := joinOrder.queryGraph.GetNeighbors(right, exclusionSet)
	if len(neighbors) == 0 {
		return true, nil
	}
	unionSets := make([]*JoinRelationSet, len(neighbors))
	for i, neighbor := range neighbors {
		neighborRel := joinOrder.setManager.getRelation2(neighbor)
		combinedSet := joinOrder.setManager.union(right, neighborRel)
		if joinOrder.getPlan(combinedSet) != nil {
			connection := joinOrder.queryGraph.getConnection(left, combinedSet)
			if connection != nil {
				ok, err := joinOrder.tryEmitPair(left, combinedSet, connection)
				if err != nil || !ok {
					return ok, err
				}
			}
		}
		unionSets[i] = combinedSet
	}
	//the exclusion set grows with every neighbor visited so that each
	//complement is grown only once
	newExclusionSet := exclusionSet.copy()
	for i := range neighbors {
		newExclusionSet.insert(neighbors[i])
		ok, err := joinOrder.enumerateCmpRecursive(left, unionSets[i], newExclusionSet)
		if err != nil || !ok {
			return ok, err
		}
	}
	return true, nil
}

func (joinOrder *JoinOrderOptimizer) enumerateCsgRecursive(node *JoinRelationSet, exclusionSet UnorderedSet) (bool, error) {
	neighbors := joinOrder.queryGraph.GetNeighbors(node, exclusionSet)
	if len(neighbors) == 0 {
		return true, nil
	}
	unionSets := make([]*JoinRelationSet, len(neighbors))
	for i, neighbor := range neighbors {
		neighborRel := joinOrder.setManager.getRelation2(neighbor)
		newSet := joinOrder.setManager.union(node, neighborRel)
		if joinOrder.getPlan(newSet) != nil {
			ok, err := joinOrder.emitCsg(newSet)
			if err != nil || !ok {
				return ok, err
			}
		}
		unionSets[i] = newSet
	}
	//the exclusion set grows with every neighbor visited so that each
	//subgraph is grown only once
	newExclusionSet := exclusionSet.copy()
	for i := range neighbors {
		newExclusionSet.insert(neighbors[i])
		ok, err := joinOrder.enumerateCsgRecursive(unionSets[i], newExclusionSet)
		if err != nil || !ok {
			return ok, err
		}
	}
	return true, nil
}

func (joinOrder *JoinOrderOptimizer) solveJoinOrderExactly() (bool, error) {
	//every relation is the start node once, in descending order
	for i := len(joinOrder.relations); i > 0; i-- {
		startNode := joinOrder.setManager.getRelation2(uint64(i - 1))
		ok, err := joinOrder.emitCsg(startNode)
		if err != nil || !ok {
			return ok, err
		}
		exclusionSet := make(UnorderedSet)
		for j := 0; j < i-1; j++ {
			exclusionSet.insert(uint64(j))
		}
		ok, err = joinOrder.enumerateCsgRecursive(startNode, exclusionSet)
		if err != nil || !ok {
			return ok, err
		}
	}
	return true, nil
}

// solveJoinOrderApproximately is greedy operator ordering. it runs
// when the exact enumeration exceeded the pair budget.
func (joinOrder *JoinOrderOptimizer) solveJoinOrderApproximately() error {
	T := make([]*JoinRelationSet, 0, len(joinOrder.relations))
	for i := 0; i < len(joinOrder.relations); i++ {
		T = append(T, joinOrder.setManager.getRelation2(uint64(i)))
	}
	for len(T) > 1 {
		//pick the connected pair with the cheapest join. O(r^2) per
		//step, O(r^3) overall
		bestLeft, bestRight := 0, 0
		var bestConnection *JoinNode
		for i := 0; i < len(T); i++ {
			left := T[i]
			for j := i + 1; j < len(T); j++ {
				right := T[j]
				connection := joinOrder.queryGraph.getConnection(left, right)
				if connection != nil {
					node, err := joinOrder.emitPair(left, right, connection)
					if err != nil {
						return err
					}
					if bestConnection == nil || node.getCost() < bestConnection.getCost() {
						bestConnection = node
						bestLeft = i
						bestRight = j
					}
				}
			}
		}
		if bestConnection == nil {
			//nothing is connected. cross product the two smallest
			//relations
			smallestPlans := make([]*JoinNode, 2)
			smallestIndex := make([]int, 2)
			for i := 0; i < len(T); i++ {
				p := joinOrder.getPlan(T[i])
				if p == nil {
					return errors.New("no plan for " + T[i].String())
				}
				if smallestPlans[0] == nil || smallestPlans[0].getBaseCard() > p.getBaseCard() {
					smallestPlans[1], smallestIndex[1] = smallestPlans[0], smallestIndex[0]
					smallestPlans[0], smallestIndex[0] = p, i
				} else if smallestPlans[1] == nil || smallestPlans[1].getBaseCard() > p.getBaseCard() {
					smallestPlans[1], smallestIndex[1] = p, i
				}
			}
			if smallestPlans[0] == nil || smallestPlans[1] == nil {
				return errors.New("could not find two plans to cross product")
			}
			if smallestIndex[0] == smallestIndex[1] {
				return errors.New("smallest indices are the same")
			}
			left := smallestPlans[0].set
			right := smallestPlans[1].set
			joinOrder.queryGraph.CreateEdge(left, right, nil)
			connection := joinOrder.queryGraph.getConnection(left, right)
			if connection == nil {
				return errors.New("no connection after cross product edge")
			}
			var err error
			bestConnection, err = joinOrder.emitPair(left, right, connection)
			if err != nil {
				return err
			}
			bestLeft = smallestIndex[0]
			bestRight = smallestIndex[1]
			if bestLeft > bestRight {
				bestLeft, bestRight = bestRight, bestLeft
			}
		}
		//erase the bigger index first. erasing the smaller one first
		//would shift the bigger one
		util.AssertFunc(bestRight > bestLeft)
		T = util.Erase(T, bestRight)
		T = util.Erase(T, bestLeft)
		T = append(T, bestConnection.set)
	}
	return nil
}

// generateCrossProducts connects every pair of relations so that a
// disjoint query graph still yields a complete plan.
func (joinOrder *JoinOrderOptimizer) generateCrossProducts() {
	for i := 0; i < len(joinOrder.relations); i++ {
		left := joinOrder.setManager.getRelation2(uint64(i))
		for j := 0; j < len(joinOrder.relations); j++ {
			if i != j {
				right := joinOrder.setManager.getRelation2(uint64(j))
				joinOrder.queryGraph.CreateEdge(left, right, nil)
				joinOrder.queryGraph.CreateEdge(right, left, nil)
			}
		}
	}
}

// extractJoinRelation takes the relation subtree out of its parent.
func (joinOrder *JoinOrderOptimizer) extractJoinRelation(rel *SingleJoinRelation) (*LogicalOperator, error) {
	children := rel.parent.Children
	for i := 0; i < len(children); i++ {
		if children[i] == rel.op {
			ret := children[i]
			rel.parent.Children = slices.Delete(children, i, i+1)
			return ret, nil
		}
	}
	return nil, errors.New("could not find relation in parent node")
}

type GenerateJoinRelation struct {
	set *JoinRelationSet
	op  *LogicalOperator
}

func (joinOrder *JoinOrderOptimizer) generateJoins(extractedRels []*LogicalOperator, node *JoinNode) (*GenerateJoinRelation, error) {
	var resultOp *LogicalOperator
	var resultRel *JoinRelationSet
	if node.left != nil && node.right != nil {
		left, err := joinOrder.generateJoins(extractedRels, node.left)
		if err != nil {
			return nil, err
		}
		right, err := joinOrder.generateJoins(extractedRels, node.right)
		if err != nil {
			return nil, err
		}

		if node.info == nil || len(node.info.filters) == 0 {
			//no filters. cross product
			resultOp = &LogicalOperator{
				Typ:     LOT_JOIN,
				JoinTyp: LOT_JoinTypeCross,
				Children: []*LogicalOperator{
					left.op,
					right.op,
				},
			}
		} else {
			resultOp = &LogicalOperator{
				Typ:     LOT_JOIN,
				JoinTyp: LOT_JoinTypeInner,
				Children: []*LogicalOperator{
					left.op,
					right.op,
				},
			}
			for _, filter := range node.info.filters {
				//take the filter out of the filter table
				if joinOrder.filters[filter.filterIndex] == nil {
					return nil, errors.New("filter has been consumed already")
				}
				condition := joinOrder.filters[filter.filterIndex]
				joinOrder.filters[filter.filterIndex] = nil
				//only comparisons get edges
				util.AssertFunc(condition.Typ == ET_Func && condition.SubTyp.isComparison())
				found := isSubset(left.set, filter.leftSet) && isSubset(right.set, filter.rightSet) ||
					isSubset(left.set, filter.rightSet) && isSubset(right.set, filter.leftSet)
				if !found {
					return nil, errors.New("filter orientation matches neither side of the join")
				}
				//figure out which side is which
				invert := !isSubset(left.set, filter.leftSet)
				cond := &Expr{
					Typ:        condition.Typ,
					SubTyp:     condition.SubTyp,
					DataTyp:    condition.DataTyp,
					Name:       condition.Name,
					IsOperator: condition.IsOperator,
				}
				if !invert {
					cond.Children = []*Expr{condition.Children[0], condition.Children[1]}
				} else {
					cond.Children = []*Expr{condition.Children[1], condition.Children[0]}
					//swapped operands need the mirrored operator
					cond.SubTyp = flipComparison(condition.SubTyp)
				}
				resultOp.OnConds = append(resultOp.OnConds, cond)
			}
			util.AssertFunc(len(resultOp.OnConds) > 0)
		}
		resultRel = joinOrder.setManager.union(left.set, right.set)
	} else {
		//leaf node
		util.AssertFunc(node.set.count() == 1)
		util.AssertFunc(extractedRels[node.set.relations[0]] != nil)
		resultRel = node.set
		resultOp = extractedRels[node.set.relations[0]]
	}
	resultOp.estimatedProps = node.estimatedProps.Copy()
	resultOp.estimatedCard = uint64(resultOp.estimatedProps.getCard())
	resultOp.hasEstimatedCard = true
	if resultOp.Typ == LOT_Filter &&
		len(resultOp.Children) != 0 &&
		resultOp.Children[0].Typ == LOT_Scan {
		filterProps := resultOp.estimatedProps
		childOp := resultOp.Children[0]
		childOp.estimatedProps = NewEstimatedProperties(filterProps.getCard()/defaultSelectivity, filterProps.getCost())
		childOp.estimatedCard = uint64(childOp.estimatedProps.getCard())
		childOp.hasEstimatedCard = true
	}
	//any remaining filter that is a subset of the current relation
	//will not be used in a join above. push it here
	for _, info := range joinOrder.filterInfos {
		if joinOrder.filters[info.filterIndex] == nil {
			continue
		}
		//infos with an empty set are constant predicates. they are
		//not pushed by this pass
		if info.set.count() > 0 && isSubset(resultRel, info.set) {
			filter := joinOrder.filters[info.filterIndex]
			joinOrder.filters[info.filterIndex] = nil
			if filter.Typ == ET_Func && filter.SubTyp.isComparison() {
				//a comparison lands on the nearest join if there is
				//one, directly or under a filter
				if resultOp.Typ == LOT_JOIN && resultOp.JoinTyp == LOT_JoinTypeInner {
					resultOp.OnConds = append(resultOp.OnConds, filter)
				} else if resultOp.Typ == LOT_Filter {
					if len(resultOp.Children) != 0 &&
						resultOp.Children[0].Typ == LOT_JOIN &&
						resultOp.Children[0].JoinTyp == LOT_JoinTypeInner {
						child := resultOp.Children[0]
						child.OnConds = append(child.OnConds, filter)
					} else {
						resultOp.Filters = append(resultOp.Filters, filter)
					}
				} else {
					resultOp = pushFilter(resultOp, filter)
				}
			} else {
				resultOp = pushFilter(resultOp, filter)
			}
		}
	}
	return &GenerateJoinRelation{
		set: resultRel,
		op:  resultOp,
	}, nil
}

func (joinOrder *JoinOrderOptimizer) rewritePlan(root *LogicalOperator, node *JoinNode) (*LogicalOperator, error) {
	rootIsJoin := len(root.Children) > 1

	extractedRelations := make([]*LogicalOperator, 0, len(joinOrder.relations))
	for _, rel := range joinOrder.relations {
		exRel, err := joinOrder.extractJoinRelation(rel)
		if err != nil {
			return nil, err
		}
		extractedRelations = append(extractedRelations, exRel)
	}
	joinTree, err := joinOrder.generateJoins(extractedRelations, node)
	if err != nil {
		return nil, err
	}
	//the filters that were never placed end up above the new tree
	for i, filter := range joinOrder.filters {
		if filter != nil {
			joinTree.op = pushFilter(joinTree.op, filter)
			joinOrder.filters[i] = nil
		}
	}
	checkExprIsValid(joinTree.op)

	if rootIsJoin {
		return joinOrder.resolveJoinConditions(joinTree.op), nil
	}
	if len(root.Children) != 1 {
		return nil, errors.New("root has multiple children")
	}
	//walk down the wrapper chain to the point where the original join
	//subtree lived
	op := root
	parent := root
	for op.Typ != LOT_JOIN {
		if len(op.Children) != 1 {
			return nil, errors.New("multiple children in the wrapper chain")
		}
		parent = op
		op = op.Children[0]
	}
	parent.Children[0] = joinTree.op
	return joinOrder.resolveJoinConditions(root), nil
}

func pushFilter(node *LogicalOperator, expr *Expr) *LogicalOperator {
	if node.Typ != LOT_Filter {
		filter := &LogicalOperator{Typ: LOT_Filter, Children: []*LogicalOperator{node}}
		node = filter
	}
	node.Filters = append(node.Filters, expr)
	return node
}
