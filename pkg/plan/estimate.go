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

import "fmt"

const (
	defaultSelectivity = float64(0.2)
)

type Stats struct {
	RowCount float64
}

func (s *Stats) Copy() *Stats {
	return &Stats{RowCount: s.RowCount}
}

func (s *Stats) String() string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("rowcount %v", s.RowCount)
}

type EstimatedProperties struct {
	card float64
	cost float64
}

func NewEstimatedProperties(card, cost float64) *EstimatedProperties {
	return &EstimatedProperties{
		card: card,
		cost: cost,
	}
}

func (ep *EstimatedProperties) getCard() float64 {
	return ep.card
}

func (ep *EstimatedProperties) setCard(f float64) {
	ep.card = f
}

func (ep *EstimatedProperties) getCost() float64 {
	return ep.cost
}

func (ep *EstimatedProperties) Copy() *EstimatedProperties {
	return &EstimatedProperties{
		card: ep.card,
		cost: ep.cost,
	}
}
