package ir

import (
	"fmt"
	"strings"
)

// Type describes the static type of a Value.
type Type interface {
	String() string
}

// TensorType is the type of a tensor value. Sizes may be fully known
// (complete) or entirely unknown; partially known shapes are not modeled.
type TensorType struct {
	sizes    []int64
	complete bool
}

// NewTensorType returns a tensor type with unknown shape.
func NewTensorType() *TensorType {
	return &TensorType{}
}

// NewCompleteTensorType returns a tensor type with every dimension extent
// known.
func NewCompleteTensorType(sizes ...int64) *TensorType {
	return &TensorType{sizes: append([]int64(nil), sizes...), complete: true}
}

// IsComplete reports whether the rank and all per-dimension extents are
// known. Rank-0 tensors are treated as incomplete: there is no dimension to
// concatenate along.
func (t *TensorType) IsComplete() bool {
	return t.complete && len(t.sizes) > 0
}

// Sizes returns the per-dimension extents. Valid only when IsComplete.
func (t *TensorType) Sizes() []int64 {
	return t.sizes
}

// Dim returns the rank. Valid only when the shape is known.
func (t *TensorType) Dim() int {
	return len(t.sizes)
}

func (t *TensorType) String() string {
	if !t.complete {
		return "Tensor"
	}
	parts := make([]string, len(t.sizes))
	for i, s := range t.sizes {
		parts[i] = fmt.Sprintf("%d", s)
	}
	return "Tensor(" + strings.Join(parts, ", ") + ")"
}

// IntType is the type of integer scalar values.
type IntType struct{}

// NewIntType returns the integer scalar type.
func NewIntType() *IntType {
	return &IntType{}
}

func (t *IntType) String() string {
	return "int"
}

// NoneType is the type of the none constant.
type NoneType struct{}

// NewNoneType returns the none type.
func NewNoneType() *NoneType {
	return &NoneType{}
}

func (t *NoneType) String() string {
	return "None"
}

// ListType is the type of an ordered sequence value.
type ListType struct {
	elem Type
}

// NewListType returns a list type with the given element type.
func NewListType(elem Type) *ListType {
	return &ListType{elem: elem}
}

// Elem returns the element type.
func (t *ListType) Elem() Type {
	return t.elem
}

func (t *ListType) String() string {
	return t.elem.String() + "[]"
}
