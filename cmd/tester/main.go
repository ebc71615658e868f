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

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/joinorder/pkg/plan"
	"github.com/daviszhen/joinorder/pkg/util"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initReorderCmd()
}

var testerCfg = &util.Config{}

///root cmd

var info = "tester"
var RootCmd = &cobra.Command{
	Use:          "tester",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use tester --help or -h")
	},
}

func initDebugOptions() {
	testerCfg.Debug.PrintPlan = viper.GetBool("debug.printPlan")
	testerCfg.Debug.Verbose = viper.GetBool("debug.verbose")
	if testerCfg.Debug.Verbose {
		util.EnableDebug()
	}
}

//reorder cmd

var reorderInfo = "run the join order optimizer on the built-in plans"
var reorderCmd = &cobra.Command{
	Use:   "reorder",
	Short: reorderInfo,
	Long:  reorderInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		initReorderCfg()
		return runDemos(testerCfg)
	},
}

func initReorderCfg() {
	initDebugOptions()
	testerCfg.Optimizer.MaxPairs = viper.GetUint64("optimizer.maxPairs")
	testerCfg.Optimizer.SmallerRelOnRight = viper.GetBool("optimizer.smallerRelOnRight")
}

func initReorderCmd() {
	RootCmd.AddCommand(reorderCmd)
	reorderCmd.Flags().Uint64Var(&testerCfg.Optimizer.MaxPairs, "max_pairs", plan.DefaultMaxPairs, "pair budget of the exact enumeration")
	reorderCmd.Flags().BoolVar(&testerCfg.Optimizer.SmallerRelOnRight, "smaller_rel_on_right", true, "put the smaller relation on the build side")
	reorderCmd.Flags().BoolVar(&testerCfg.Debug.PrintPlan, "print_plan", true, "print the plans before and after")

	viper.BindPFlag("optimizer.maxPairs", reorderCmd.Flags().Lookup("max_pairs"))
	viper.BindPFlag("optimizer.smallerRelOnRight", reorderCmd.Flags().Lookup("smaller_rel_on_right"))
	viper.BindPFlag("debug.printPlan", reorderCmd.Flags().Lookup("print_plan"))
}

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "tester.toml"

func loadConfig() {
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			viper.SetConfigFile(fpath)
			err := viper.ReadInConfig()
			if err != nil {
				util.Error("viper load config file failed",
					zap.String("fpath", fpath),
					zap.Error(err))
				continue
			}
			break
		}
	}
}

type demo struct {
	name  string
	build func() *plan.LogicalOperator
}

func demos() []demo {
	return []demo{
		{name: "chain3", build: chainPlan},
		{name: "clique5", build: cliquePlan},
		{name: "disjoint2", build: disjointPlan},
		{name: "leftjoin", build: leftJoinPlan},
	}
}

func runDemos(cfg *util.Config) error {
	var eg errgroup.Group
	for _, d := range demos() {
		d := d
		eg.Go(func() error {
			root := d.build()
			before := root.String()
			optimizer := plan.NewJoinOrderOptimizerWithOptions(cfg.Optimizer)
			newRoot, err := optimizer.Optimize(root)
			if err != nil {
				util.Error("optimize failed",
					zap.String("demo", d.name),
					zap.Error(err))
				return err
			}
			if cfg.Debug.PrintPlan {
				fmt.Printf("=== %s ===\nbefore:\n%s\nafter:\n%s\n", d.name, before, newRoot.String())
			}
			util.Info("optimized", zap.String("demo", d.name))
			return nil
		})
	}
	return eg.Wait()
}

func scan(index uint64, table string, rows float64) *plan.LogicalOperator {
	return &plan.LogicalOperator{
		Typ:      plan.LOT_Scan,
		Index:    index,
		Database: "demo",
		Table:    table,
		Stats:    &plan.Stats{RowCount: rows},
	}
}

func col(tableIdx, colIdx uint64, table, name string) *plan.Expr {
	return &plan.Expr{
		Typ:    plan.ET_Column,
		Table:  table,
		Name:   name,
		ColRef: plan.ColumnBind{tableIdx, colIdx},
	}
}

func eq(left, right *plan.Expr) *plan.Expr {
	return &plan.Expr{
		Typ:        plan.ET_Func,
		SubTyp:     plan.ET_Equal,
		IsOperator: true,
		Children:   []*plan.Expr{left, right},
	}
}

func join(typ plan.LOT_JoinType, left, right *plan.LogicalOperator, conds ...*plan.Expr) *plan.LogicalOperator {
	return &plan.LogicalOperator{
		Typ:      plan.LOT_JOIN,
		JoinTyp:  typ,
		OnConds:  conds,
		Children: []*plan.LogicalOperator{left, right},
	}
}

// t1 join t2 join t3 along a chain of equalities
func chainPlan() *plan.LogicalOperator {
	t1 := scan(1, "t1", 100)
	t2 := scan(2, "t2", 10)
	t3 := scan(3, "t3", 1000)
	j1 := join(plan.LOT_JoinTypeInner, t1, t2, eq(col(1, 0, "t1", "a"), col(2, 0, "t2", "b")))
	j2 := join(plan.LOT_JoinTypeInner, j1, t3, eq(col(2, 1, "t2", "c"), col(3, 0, "t3", "d")))
	return j2
}

// five relations, all pairs connected
func cliquePlan() *plan.LogicalOperator {
	tabs := make([]*plan.LogicalOperator, 0)
	for i := uint64(1); i <= 5; i++ {
		tabs = append(tabs, scan(i, fmt.Sprintf("t%d", i), float64(i*37)))
	}
	root := tabs[0]
	for i := 1; i < len(tabs); i++ {
		conds := make([]*plan.Expr, 0)
		for j := 0; j < i; j++ {
			conds = append(conds,
				eq(col(uint64(j+1), 0, fmt.Sprintf("t%d", j+1), "k"),
					col(uint64(i+1), 0, fmt.Sprintf("t%d", i+1), "k")))
		}
		root = join(plan.LOT_JoinTypeInner, root, tabs[i], conds...)
	}
	return root
}

// two relations without a predicate between them
func disjointPlan() *plan.LogicalOperator {
	t1 := scan(1, "t1", 100)
	t2 := scan(2, "t2", 50)
	return join(plan.LOT_JoinTypeCross, t1, t2)
}

// the left join blocks reordering of its inputs
func leftJoinPlan() *plan.LogicalOperator {
	t1 := scan(1, "t1", 100)
	t2 := scan(2, "t2", 10)
	t3 := scan(3, "t3", 1000)
	lj := join(plan.LOT_JoinTypeLeft, t1, t2, eq(col(1, 0, "t1", "a"), col(2, 0, "t2", "b")))
	return join(plan.LOT_JoinTypeInner, lj, t3, eq(col(2, 1, "t2", "c"), col(3, 0, "t3", "d")))
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
