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

package util

type OptimizerOptions struct {
	// MaxPairs bounds the exact join enumeration. Beyond it the
	// optimizer falls back to the greedy algorithm.
	MaxPairs uint64 `toml:"maxPairs"`
	// SmallerRelOnRight puts the smaller side of a join on the
	// build side.
	SmallerRelOnRight bool `toml:"smallerRelOnRight"`
}

type DebugOptions struct {
	PrintPlan bool `toml:"printPlan"`
	Verbose   bool `toml:"verbose"`
}

type Config struct {
	Optimizer OptimizerOptions `toml:"optimizer"`
	Debug     DebugOptions     `toml:"debug"`
}
