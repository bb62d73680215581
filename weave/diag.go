package weave

import (
	"fmt"

	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

// Severity grades a diagnostic.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Diagnostic is one report keyed by (trait, target, site). Site names the
// member or injection point the condition was observed at, and may be empty
// for class-level conditions.
type Diagnostic struct {
	Severity Severity
	Trait    string
	Target   string
	Site     string
	Message  string
}

// String formats the diagnostic the way DescribeFailure does.
func (d Diagnostic) String() string {
	key := d.Trait + " -> " + d.Target
	if d.Site != "" {
		key += " @ " + d.Site
	}
	return fmt.Sprintf("[%s] %s: %s", d.Severity, key, d.Message)
}

// Sink receives non-fatal conditions discovered while merging. Implementations
// must be safe for concurrent use; one sink may serve many class-load threads.
type Sink interface {
	Report(Diagnostic)
}

// LogSink forwards diagnostics to the process logger.
type LogSink struct {
	log commonlog.Logger
}

// NewLogSink returns a sink logging under the "weft.weave" scope.
func NewLogSink() *LogSink {
	return &LogSink{log: commonlog.GetLogger("weft.weave")}
}

// Report logs the diagnostic at the matching level.
func (s *LogSink) Report(d Diagnostic) {
	if d.Severity == SeverityError {
		s.log.Error(d.String())
		return
	}
	s.log.Warning(d.String())
}

// DescribeFailure renders a fatal merge error with its (trait, target)
// coordinates, in the same shape diagnostics use.
func DescribeFailure(trait, target string, err error) string {
	return Diagnostic{
		Severity: SeverityError,
		Trait:    trait,
		Target:   target,
		Message:  err.Error(),
	}.String()
}
