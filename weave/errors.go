// Package weave merges trait class definitions into compiled target classes
// and rewrites target method bodies at resolved injection points.
package weave

import (
	"fmt"
	"strings"
)

// ResolutionError reports a class or member that could not be located through
// the metadata resolver. Fatal for the merge that requested it.
type ResolutionError struct {
	Class  string
	Member string // "" when the class itself is missing
	Trait  string
	Target string
	Cause  error
}

func (e *ResolutionError) Error() string {
	what := e.Class
	if e.Member != "" {
		what = e.Class + "." + e.Member
	}
	msg := fmt.Sprintf("cannot resolve %s", what)
	if e.Trait != "" {
		msg += fmt.Sprintf(" (requested by trait %s for target %s)", e.Trait, e.Target)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Cause }

// SelectorError reports an injection point query that matched the wrong
// number of instructions. Searched lists the coordinates that were examined
// so the caller can see why resolution failed.
type SelectorError struct {
	Selector string
	Found    int
	Require  int // minimum required matches
	Expect   int // maximum permitted matches, 0 = unlimited
	Searched []string
}

func (e *SelectorError) Error() string {
	var msg string
	switch {
	case e.Found == 0:
		msg = fmt.Sprintf("selector %q matched no instructions", e.Selector)
	case e.Expect > 0 && e.Found > e.Expect:
		msg = fmt.Sprintf("selector %q matched %d instructions, at most %d permitted (over-injection protection)", e.Selector, e.Found, e.Expect)
	default:
		msg = fmt.Sprintf("selector %q matched %d instructions, at least %d required", e.Selector, e.Found, e.Require)
	}
	if len(e.Searched) > 0 {
		msg += "; searched: " + strings.Join(e.Searched, ", ")
	}
	return msg
}

// SliceError reports an invalid or empty instruction slice.
type SliceError struct {
	Slice  string
	Reason string
}

func (e *SliceError) Error() string {
	if e.Slice == "" {
		return "invalid slice: " + e.Reason
	}
	return fmt.Sprintf("invalid slice %q: %s", e.Slice, e.Reason)
}

// StaticnessError reports a handler whose static-ness is incompatible with
// the matched injection site.
type StaticnessError struct {
	Handler string
	Site    string
	Reason  string
}

func (e *StaticnessError) Error() string {
	return fmt.Sprintf("handler %s cannot target %s: %s", e.Handler, e.Site, e.Reason)
}

// SignatureError reports a handler signature that does not fit the target.
type SignatureError struct {
	Handler  string
	Expected string
	Found    string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("handler %s has descriptor %s, expected %s", e.Handler, e.Found, e.Expected)
}

// StructuralValidationError reports that the merged class failed structural
// verification. This is an internal consistency failure of the merge itself;
// broken output is never emitted silently.
type StructuralValidationError struct {
	Class  string
	Method string
	Reason string
}

func (e *StructuralValidationError) Error() string {
	return fmt.Sprintf("merged class %s fails validation at %s: %s", e.Class, e.Method, e.Reason)
}
