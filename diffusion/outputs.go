// outputs.go - Geordnete Ausgaben eines Subnetzes
package diffusion

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ollama/ortdiffusion/ml"
)

// Outputs maps output names to tensors in the order the model declares them.
type Outputs struct {
	m *orderedmap.OrderedMap[string, *ml.Tensor]
}

func NewOutputs() *Outputs {
	return &Outputs{m: orderedmap.New[string, *ml.Tensor]()}
}

// Set adds or replaces name. A new name is appended at the end.
func (o *Outputs) Set(name string, t *ml.Tensor) { o.m.Set(name, t) }

func (o *Outputs) Get(name string) (*ml.Tensor, bool) { return o.m.Get(name) }

// Pop removes name and returns its tensor.
func (o *Outputs) Pop(name string) (*ml.Tensor, bool) {
	t, ok := o.m.Get(name)
	if ok {
		o.m.Delete(name)
	}
	return t, ok
}

// Rename moves the tensor under from to to, keeping its position.
func (o *Outputs) Rename(from, to string) {
	if _, ok := o.m.Get(from); !ok {
		return
	}

	next := orderedmap.New[string, *ml.Tensor](o.m.Len())
	for pair := o.m.Oldest(); pair != nil; pair = pair.Next() {
		key := pair.Key
		if key == from {
			key = to
		}
		next.Set(key, pair.Value)
	}
	o.m = next
}

func (o *Outputs) Len() int { return o.m.Len() }

func (o *Outputs) Names() []string {
	names := make([]string, 0, o.m.Len())
	for pair := o.m.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// First returns the first output, the positional result of the subnetwork.
func (o *Outputs) First() *ml.Tensor {
	if pair := o.m.Oldest(); pair != nil {
		return pair.Value
	}
	return nil
}

func (o *Outputs) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for pair := o.m.Oldest(); pair != nil; pair = pair.Next() {
		if pair != o.m.Oldest() {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %s%v", pair.Key, pair.Value.DType(), pair.Value.Shape())
	}
	sb.WriteString("}")
	return sb.String()
}
