// dump.go - Kompakte Tensor-Ausgabe fuer Trace-Logs
// Zeigt Minimum, Maximum, Mittelwert und die Randwerte der flachen Daten.
package ml

import (
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// DumpOptions configures Dump.
type DumpOptions func(*dumpOptions)

// DumpWithPrecision sets the decimal places of floating point values.
func DumpWithPrecision(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.precision = n
	}
}

// DumpWithThreshold prints every value of tensors with at most n elements.
func DumpWithThreshold(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.threshold = n
	}
}

// DumpWithEdgeItems sets how many leading and trailing values larger
// tensors print.
func DumpWithEdgeItems(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.edgeItems = n
	}
}

type dumpOptions struct {
	precision, threshold, edgeItems int
}

// Dump renders the statistics and the flattened values of t on one line,
// e.g. "min=-2.0 max=4.0 mean=1.5 [1.0 -2.0 3.0 4.0]".
func Dump(t *Tensor, fns ...DumpOptions) string {
	opts := dumpOptions{precision: 4, threshold: 1000, edgeItems: 3}
	for _, fn := range fns {
		fn(&opts)
	}

	values, err := t.float64s()
	if err != nil {
		return "<" + t.dtype.String() + ">"
	}
	if len(values) == 0 {
		return "[]"
	}

	format := func(v float64) string {
		if t.dtype.IsFloat() {
			return strconv.FormatFloat(v, 'f', opts.precision, 64)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	}

	var sb strings.Builder
	sb.WriteString("min=")
	sb.WriteString(format(floats.Min(values)))
	sb.WriteString(" max=")
	sb.WriteString(format(floats.Max(values)))
	sb.WriteString(" mean=")
	sb.WriteString(format(floats.Sum(values) / float64(len(values))))
	sb.WriteString(" [")

	n := len(values)
	elide := n > opts.threshold && n > 2*opts.edgeItems
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(" ")
		}
		if elide && i == opts.edgeItems {
			sb.WriteString("...")
			i = n - opts.edgeItems - 1
			continue
		}
		sb.WriteString(format(values[i]))
	}
	sb.WriteString("]")
	return sb.String()
}
