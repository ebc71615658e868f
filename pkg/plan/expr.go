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
	"strings"

	"github.com/govalues/decimal"
	"github.com/huandu/go-clone"
)

type DataType int

const (
	DataTypeInteger DataType = iota
	DataTypeVarchar
	DataTypeDecimal
	DataTypeDate
	DataTypeFloat
	DataTypeBool
	DataTypeInvalid
)

var dataType2Str = map[DataType]string{
	DataTypeInteger: "int",
	DataTypeVarchar: "varchar",
	DataTypeDecimal: "decimal",
	DataTypeDate:    "date",
	DataTypeFloat:   "float",
	DataTypeBool:    "bool",
	DataTypeInvalid: "invalid",
}

func (dt DataType) String() string {
	if s, ok := dataType2Str[dt]; ok {
		return s
	}
	return "invalid"
}

type ExprDataType struct {
	Typ     DataType
	NotNull bool
	Width   uint64
	Scale   uint64
}

func (edt ExprDataType) String() string {
	null := "null"
	if edt.NotNull {
		null = "not null"
	}
	return fmt.Sprintf("<%s,%s,%d,%d>", edt.Typ, null, edt.Width, edt.Scale)
}

var InvalidExprDataType = ExprDataType{
	Typ: DataTypeInvalid,
}

type ET int

const (
	ET_Column ET = iota //column
	ET_Ref              //resolved positional slot
	ET_Func
	ET_Subquery

	ET_IConst   //integer
	ET_DecConst //decimal
	ET_SConst   //string
	ET_FConst   //float
	ET_DateConst
	ET_BConst //bool
	ET_NConst //null
)

type ET_SubTyp int

const (
	//real function
	ET_Invalid ET_SubTyp = iota
	ET_SubFunc
	//operator
	ET_Add
	ET_Sub
	ET_Mul
	ET_Div
	ET_Equal
	ET_NotEqual
	ET_Greater
	ET_GreaterEqual
	ET_Less
	ET_LessEqual
	ET_Like
	ET_NotLike
	ET_And
	ET_Or
	ET_Not
	ET_Between
	ET_Case
	ET_In
	ET_NotIn
	ET_Exists
	ET_NotExists
	ET_Cast
)

func (et ET_SubTyp) String() string {
	switch et {
	case ET_SubFunc:
		return "func"
	case ET_Add:
		return "+"
	case ET_Sub:
		return "-"
	case ET_Mul:
		return "*"
	case ET_Div:
		return "/"
	case ET_Equal:
		return "="
	case ET_NotEqual:
		return "<>"
	case ET_Greater:
		return ">"
	case ET_GreaterEqual:
		return ">="
	case ET_Less:
		return "<"
	case ET_LessEqual:
		return "<="
	case ET_Like:
		return "like"
	case ET_NotLike:
		return "not like"
	case ET_And:
		return "and"
	case ET_Or:
		return "or"
	case ET_Not:
		return "not"
	case ET_Between:
		return "between"
	case ET_Case:
		return "case"
	case ET_In:
		return "in"
	case ET_NotIn:
		return "not in"
	case ET_Exists:
		return "exists"
	case ET_NotExists:
		return "not exists"
	case ET_Cast:
		return "cast"
	default:
		panic(fmt.Sprintf("usp %v", int(et)))
	}
}

// isComparison covers the operators that can become join conditions.
func (et ET_SubTyp) isComparison() bool {
	switch et {
	case ET_Equal, ET_NotEqual,
		ET_Greater, ET_GreaterEqual,
		ET_Less, ET_LessEqual,
		ET_Like, ET_NotLike:
		return true
	default:
		return false
	}
}

// canNegate covers the range NOT can be folded into.
func (et ET_SubTyp) canNegate() bool {
	switch et {
	case ET_Equal, ET_NotEqual,
		ET_Greater, ET_GreaterEqual,
		ET_Less, ET_LessEqual:
		return true
	default:
		return false
	}
}

// flipComparison mirrors the operator when the operand order of a
// comparison is swapped.
func flipComparison(et ET_SubTyp) ET_SubTyp {
	switch et {
	case ET_Equal:
		return ET_Equal
	case ET_NotEqual:
		return ET_NotEqual
	case ET_Greater:
		return ET_Less
	case ET_GreaterEqual:
		return ET_LessEqual
	case ET_Less:
		return ET_Greater
	case ET_LessEqual:
		return ET_GreaterEqual
	default:
		panic(fmt.Sprintf("usp flip %v", et))
	}
}

// negateComparison rewrites NOT (a op b) into a op' b.
func negateComparison(et ET_SubTyp) ET_SubTyp {
	switch et {
	case ET_Equal:
		return ET_NotEqual
	case ET_NotEqual:
		return ET_Equal
	case ET_Greater:
		return ET_LessEqual
	case ET_GreaterEqual:
		return ET_Less
	case ET_Less:
		return ET_GreaterEqual
	case ET_LessEqual:
		return ET_Greater
	default:
		panic(fmt.Sprintf("usp negate %v", et))
	}
}

type ET_SubqueryType int

const (
	ET_SubqueryTypeScalar ET_SubqueryType = iota
	ET_SubqueryTypeExists
	ET_SubqueryTypeNotExists
	ET_SubqueryTypeIn
	ET_SubqueryTypeNotIn
)

// ColumnBind is the pair (table index, column position).
type ColumnBind [2]uint64

type Expr struct {
	Typ     ET
	SubTyp  ET_SubTyp
	DataTyp ExprDataType

	Children []*Expr

	Index    uint64
	Database string
	Table    string
	Name     string
	ColRef   ColumnBind
	Depth    int // > 0, correlated column
	Svalue   string
	Ivalue   int64
	Fvalue   float64
	Dvalue   decimal.Decimal
	Bvalue   bool
	Alias    string

	SubqueryTyp ET_SubqueryType
	Correlated  bool // correlated subquery

	IsOperator bool
}

func (e *Expr) copy() *Expr {
	if e == nil {
		return nil
	}
	return clone.Clone(e).(*Expr)
}

func copyExprs(exprs ...*Expr) []*Expr {
	ret := make([]*Expr, 0)
	for _, expr := range exprs {
		ret = append(ret, expr.copy())
	}
	return ret
}

func (e *Expr) String() string {
	if e == nil {
		return ""
	}
	sb := strings.Builder{}
	switch e.Typ {
	case ET_Column:
		if e.Depth > 0 {
			sb.WriteString(fmt.Sprintf("%s.%s[%d,%d,%d]", e.Table, e.Name, e.ColRef[0], e.ColRef[1], e.Depth))
		} else {
			sb.WriteString(fmt.Sprintf("%s.%s[%d,%d]", e.Table, e.Name, e.ColRef[0], e.ColRef[1]))
		}
	case ET_Ref:
		sb.WriteString(fmt.Sprintf("#%d", e.Index))
	case ET_Func:
		switch e.SubTyp {
		case ET_SubFunc:
			sb.WriteString(e.Name)
			sb.WriteByte('(')
			for i, child := range e.Children {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(child.String())
			}
			sb.WriteByte(')')
		case ET_Not:
			sb.WriteString(fmt.Sprintf("not (%s)", e.Children[0].String()))
		case ET_Between:
			sb.WriteString(fmt.Sprintf("%s between %s and %s",
				e.Children[0].String(), e.Children[1].String(), e.Children[2].String()))
		case ET_In, ET_NotIn:
			sb.WriteString(e.Children[0].String())
			sb.WriteString(fmt.Sprintf(" %s (", e.SubTyp))
			for i := 1; i < len(e.Children); i++ {
				if i > 1 {
					sb.WriteString(", ")
				}
				sb.WriteString(e.Children[i].String())
			}
			sb.WriteByte(')')
		default:
			sb.WriteString(fmt.Sprintf("(%s %s %s)",
				e.Children[0].String(), e.SubTyp, e.Children[1].String()))
		}
	case ET_Subquery:
		if e.Correlated {
			sb.WriteString("subquery(correlated)")
		} else {
			sb.WriteString("subquery")
		}
	case ET_IConst:
		sb.WriteString(fmt.Sprintf("%d", e.Ivalue))
	case ET_DecConst:
		sb.WriteString(e.Dvalue.String())
	case ET_SConst:
		sb.WriteString(fmt.Sprintf("'%s'", e.Svalue))
	case ET_FConst:
		sb.WriteString(fmt.Sprintf("%g", e.Fvalue))
	case ET_DateConst:
		sb.WriteString(fmt.Sprintf("date '%s'", e.Svalue))
	case ET_BConst:
		sb.WriteString(fmt.Sprintf("%v", e.Bvalue))
	case ET_NConst:
		sb.WriteString("null")
	default:
		panic(fmt.Sprintf("usp %v", e.Typ))
	}
	return sb.String()
}

func splitExprByAnd(expr *Expr) []*Expr {
	if expr.Typ == ET_Func {
		if expr.SubTyp == ET_And {
			return append(splitExprByAnd(expr.Children[0]), splitExprByAnd(expr.Children[1])...)
		}
	}
	return []*Expr{expr.copy()}
}

func splitExprsByAnd(exprs []*Expr) []*Expr {
	ret := make([]*Expr, 0)
	for _, e := range exprs {
		if e == nil {
			continue
		}
		ret = append(ret, splitExprByAnd(e)...)
	}
	return ret
}
