package ir

import (
	"fmt"
	"strings"
)

// IValueKind tags the payload carried by an IValue.
type IValueKind int

const (
	IValueNone IValueKind = iota
	IValueInt
	IValueIntList
)

// IValue is a constant payload attached to a prim::Constant node.
type IValue struct {
	kind    IValueKind
	i       int64
	intList []int64
}

// NewNone returns the none constant payload.
func NewNone() IValue {
	return IValue{kind: IValueNone}
}

// NewInt returns an integer constant payload.
func NewInt(i int64) IValue {
	return IValue{kind: IValueInt, i: i}
}

// NewIntList returns an integer-list constant payload.
func NewIntList(is []int64) IValue {
	return IValue{kind: IValueIntList, intList: append([]int64(nil), is...)}
}

// Kind returns the payload tag.
func (iv IValue) Kind() IValueKind {
	return iv.kind
}

// Int returns the integer payload. Valid only when Kind is IValueInt.
func (iv IValue) Int() int64 {
	return iv.i
}

// IntList returns the integer-list payload. Valid only when Kind is
// IValueIntList.
func (iv IValue) IntList() []int64 {
	return iv.intList
}

func (iv IValue) String() string {
	switch iv.kind {
	case IValueInt:
		return fmt.Sprintf("%d", iv.i)
	case IValueIntList:
		parts := make([]string, len(iv.intList))
		for i, n := range iv.intList {
			parts[i] = fmt.Sprintf("%d", n)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "None"
	}
}

func (iv IValue) valueType() Type {
	switch iv.kind {
	case IValueInt:
		return NewIntType()
	case IValueIntList:
		return NewListType(NewIntType())
	default:
		return NewNoneType()
	}
}

// ConstantAsInt reads an already-resolved integer constant. It returns
// false when v is not produced by a prim::Constant node carrying an
// integer.
func ConstantAsInt(v *Value) (int64, bool) {
	n := v.Node()
	if n == nil || n.kind != PrimConstant || n.ival == nil || n.ival.kind != IValueInt {
		return 0, false
	}
	return n.ival.i, true
}
