package weave

import (
	"fmt"
	"strings"

	"github.com/chazu/weft/pkg/classfile"
)

// MatchResult grades how well an instruction matched a selector. Loose
// (case-insensitive) matches exist purely for better error messages; they are
// never accepted silently.
type MatchResult int

const (
	MatchNone MatchResult = iota
	MatchLoose
	MatchExact
)

// Selector is a symbolic pattern identifying member-reference instructions.
// Empty Owner or Desc match anything; Name is required. Ordinal -1 matches
// all occurrences, any other value selects the 0-indexed n-th occurrence of
// its owner/name/descriptor triple.
type Selector struct {
	Owner   string
	Name    string
	Desc    string
	Ordinal int
	raw     string
}

// ParseSelector parses a target expression. Accepted forms:
//
//	name
//	name(I)V
//	name:I                          (field with descriptor)
//	Lcom/example/Foo;name(I)V
//	Lcom/example/Foo;name:I
//	com/example/Foo.name(I)V
func ParseSelector(s string) (Selector, error) {
	sel := Selector{Ordinal: -1, raw: s}
	rest := strings.TrimSpace(s)
	if rest == "" {
		return sel, fmt.Errorf("empty selector")
	}

	if strings.HasPrefix(rest, "L") {
		semi := strings.IndexByte(rest, ';')
		if semi < 0 {
			return sel, fmt.Errorf("selector %q: unterminated owner", s)
		}
		sel.Owner = rest[1:semi]
		rest = rest[semi+1:]
	} else if dot := strings.LastIndexByte(rest, '.'); dot >= 0 {
		sel.Owner = rest[:dot]
		rest = rest[dot+1:]
	}

	if paren := strings.IndexByte(rest, '('); paren >= 0 {
		sel.Name = rest[:paren]
		sel.Desc = rest[paren:]
	} else if colon := strings.IndexByte(rest, ':'); colon >= 0 {
		sel.Name = rest[:colon]
		sel.Desc = rest[colon+1:]
	} else {
		sel.Name = rest
	}

	if sel.Name == "" {
		return sel, fmt.Errorf("selector %q: missing member name", s)
	}
	return sel, nil
}

// String returns the original selector expression.
func (s Selector) String() string {
	if s.raw != "" {
		return s.raw
	}
	out := s.Name + s.Desc
	if s.Owner != "" {
		out = "L" + s.Owner + ";" + out
	}
	return out
}

// Match grades one instruction against the selector. Only member-reference
// instructions (invokes and field accesses) can match.
func (s Selector) Match(in *classfile.Insn) MatchResult {
	switch in.Kind {
	case classfile.KindInvoke, classfile.KindField:
	default:
		return MatchNone
	}
	if s.Owner != "" && s.Owner != in.Owner {
		return MatchNone
	}
	if s.Desc != "" && s.Desc != in.Desc {
		return MatchNone
	}
	if s.Name == in.Name {
		return MatchExact
	}
	if strings.EqualFold(s.Name, in.Name) {
		return MatchLoose
	}
	return MatchNone
}

// PointKind names the structural category of instruction an injection point
// anchors to.
type PointKind string

const (
	AtHead     PointKind = "HEAD"     // first real instruction
	AtReturn   PointKind = "RETURN"   // every return opcode
	AtTail     PointKind = "TAIL"     // final return opcode only
	AtInvoke   PointKind = "INVOKE"   // method invocation matching the selector
	AtField    PointKind = "FIELD"    // field access matching the selector
	AtNew      PointKind = "NEW"      // object allocation of the selector owner
	AtConstant PointKind = "CONSTANT" // constant load (matched by ordinal only)
)

// ParsePointKind validates an injection point name.
func ParsePointKind(s string) (PointKind, error) {
	switch k := PointKind(strings.ToUpper(s)); k {
	case AtHead, AtReturn, AtTail, AtInvoke, AtField, AtNew, AtConstant:
		return k, nil
	default:
		return "", fmt.Errorf("unknown injection point %q", s)
	}
}

// FindResult is the output of a selector query: the matched instructions in
// source order, plus the coordinates that were searched and any loose
// (case-only) candidates, both kept for diagnostics.
type FindResult struct {
	Matches  []*classfile.Insn
	Searched []string
	Loose    []string
}

// Find scans the instruction stream for injection points of the given kind.
// The stream may already be slice-filtered. Matching is structural first
// (opcode category per kind) and symbolic second; an explicit ordinal stops
// the scan at its occurrence.
func Find(kind PointKind, sel Selector, insns []*classfile.Insn) FindResult {
	var res FindResult
	seen := make(map[string]bool)
	ordinals := make(map[string]int)

	switch kind {
	case AtHead:
		for _, in := range insns {
			if in.IsReal() {
				res.Matches = append(res.Matches, in)
				break
			}
		}
		return res

	case AtReturn, AtTail:
		for _, in := range insns {
			if in.IsReal() && in.Opcode.IsReturn() {
				res.Matches = append(res.Matches, in)
			}
		}
		if kind == AtTail && len(res.Matches) > 1 {
			res.Matches = res.Matches[len(res.Matches)-1:]
		}
		if sel.Ordinal >= 0 {
			res.Matches = nthOrNone(res.Matches, sel.Ordinal)
		}
		return res

	case AtConstant:
		for _, in := range insns {
			if in.IsReal() && in.Opcode.IsConstLoad() {
				res.Matches = append(res.Matches, in)
			}
		}
		if sel.Ordinal >= 0 {
			res.Matches = nthOrNone(res.Matches, sel.Ordinal)
		}
		return res

	case AtNew:
		for _, in := range insns {
			if in.Kind != classfile.KindType || in.Opcode != classfile.OpNew {
				continue
			}
			if sel.Owner != "" && sel.Owner != in.ClassName {
				continue
			}
			res.Matches = append(res.Matches, in)
		}
		if sel.Ordinal >= 0 {
			res.Matches = nthOrNone(res.Matches, sel.Ordinal)
		}
		return res
	}

	// INVOKE and FIELD: symbolic member matching with per-triple ordinals.
	structural := func(in *classfile.Insn) bool {
		if kind == AtInvoke {
			return in.Kind == classfile.KindInvoke
		}
		return in.Kind == classfile.KindField
	}

	for _, in := range insns {
		if !in.IsReal() || !structural(in) {
			continue
		}
		coord := in.Owner + "." + in.Name + in.Desc
		if !seen[coord] {
			seen[coord] = true
			res.Searched = append(res.Searched, coord)
		}
		switch sel.Match(in) {
		case MatchExact:
			ord := ordinals[coord]
			ordinals[coord] = ord + 1
			if sel.Ordinal >= 0 {
				if ord == sel.Ordinal {
					res.Matches = append(res.Matches, in)
					return res
				}
				continue
			}
			res.Matches = append(res.Matches, in)
		case MatchLoose:
			res.Loose = append(res.Loose, coord)
		}
	}
	return res
}

func nthOrNone(matches []*classfile.Insn, n int) []*classfile.Insn {
	if n < len(matches) {
		return matches[n : n+1]
	}
	return nil
}

// describeSearch builds the Searched list for a SelectorError, appending
// case-insensitive near-misses as suggestions.
func (r FindResult) describeSearch() []string {
	out := append([]string(nil), r.Searched...)
	for _, l := range r.Loose {
		out = append(out, fmt.Sprintf("%s (case-insensitive match, not accepted)", l))
	}
	return out
}
