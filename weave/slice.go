package weave

import (
	"fmt"

	"github.com/chazu/weft/pkg/classfile"
)

// Range bounds a slice by source line numbers, inclusive on both ends.
// Marker is an opaque tag carried into diagnostics. The zero line is not a
// valid anchor, which makes the zero Range invalid by construction.
type Range struct {
	Start  int
	End    int
	Marker string
}

// Valid reports whether the range can bound a search region.
func (r Range) Valid() bool {
	return r.Start != 0 && r.End != 0 && r.End >= r.Start
}

func (r Range) contains(line int) bool {
	return line >= r.Start && line <= r.End
}

// ApplySlice filters an instruction stream down to the region the range
// selects. In inclusive mode instructions whose current source line falls
// inside the range are kept; in exclusive mode the complement is kept.
// Label nodes are buffered one position behind their successor so a kept
// label is never left dangling at a cut edge, and a trailing return opcode is
// trimmed when an inclusive range runs to the end of the method. Invalid or
// empty results raise a SliceError rather than silently widening the search.
func ApplySlice(insns []*classfile.Insn, r Range, inclusive bool) ([]*classfile.Insn, error) {
	if !r.Valid() {
		return nil, &SliceError{
			Slice:  r.Marker,
			Reason: fmt.Sprintf("range (%d, %d) is not valid: both anchors must be set and end must not precede start", r.Start, r.End),
		}
	}

	var out []*classfile.Insn
	var pendingLabels []*classfile.Insn
	line := 0
	sawLine := false

	for _, in := range insns {
		switch in.Kind {
		case classfile.KindLine:
			line = in.Line
			sawLine = true
			continue
		case classfile.KindLabel:
			// Held back until the next real instruction decides whether the
			// region includes it.
			pendingLabels = append(pendingLabels, in)
			continue
		}

		inside := r.contains(line)
		if inside == inclusive {
			out = append(out, pendingLabels...)
			out = append(out, in)
		}
		pendingLabels = pendingLabels[:0]
	}

	if !sawLine {
		return nil, &SliceError{Slice: r.Marker, Reason: "method has no line number information"}
	}

	// A range ending exactly at the method tail would otherwise carry the
	// closing return with it.
	if inclusive && len(out) > 0 {
		last := out[len(out)-1]
		if last == lastReal(insns) && last.Opcode.IsReturn() {
			out = out[:len(out)-1]
		}
	}

	if len(out) == 0 {
		return nil, &SliceError{
			Slice:  r.Marker,
			Reason: fmt.Sprintf("range (%d, %d) selects no instructions", r.Start, r.End),
		}
	}
	return out, nil
}

func lastReal(insns []*classfile.Insn) *classfile.Insn {
	for i := len(insns) - 1; i >= 0; i-- {
		if insns[i].IsReal() {
			return insns[i]
		}
	}
	return nil
}
