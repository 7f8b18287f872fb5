package ir

// Use records a single consumer of a value: the using node and the input
// slot it occupies there.
type Use struct {
	User   *Node
	Offset int
}

// Value is a typed, single-producer, multi-consumer edge in the graph. A
// value is produced by exactly one node, or is a graph input, in which case
// Node returns nil.
type Value struct {
	node   *Node
	offset int
	typ    Type
	uses   []Use
	name   string
}

// Node returns the defining node, or nil for a graph input.
func (v *Value) Node() *Node {
	return v.node
}

// Offset returns the output slot this value occupies on its defining node.
func (v *Value) Offset() int {
	return v.offset
}

// Type returns the value's static type, which may be nil when not yet set.
func (v *Value) Type() Type {
	return v.typ
}

// SetType sets the value's static type and returns the value.
func (v *Value) SetType(t Type) *Value {
	v.typ = t
	return v
}

// DebugName returns the value's name as it appears in textual dumps.
func (v *Value) DebugName() string {
	return v.name
}

// Uses returns the current consumers of this value in registration order.
// The returned slice must not be mutated.
func (v *Value) Uses() []Use {
	return v.uses
}

// HasUses reports whether any node still consumes this value.
func (v *Value) HasUses() bool {
	return len(v.uses) > 0
}

// ReplaceAllUsesWith redirects every use of v to newValue. After the call v
// has no uses.
func (v *Value) ReplaceAllUsesWith(newValue *Value) {
	if v == newValue {
		return
	}
	for _, u := range v.uses {
		u.User.inputs[u.Offset] = newValue
		newValue.uses = append(newValue.uses, u)
	}
	v.uses = nil
}

func (v *Value) removeUse(user *Node, offset int) {
	for i, u := range v.uses {
		if u.User == user && u.Offset == offset {
			v.uses = append(v.uses[:i], v.uses[i+1:]...)
			return
		}
	}
	panic("use not registered on value " + v.name)
}
