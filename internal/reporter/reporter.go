/*
Package reporter defines a small interface for structs that can produce a printable, typically
statistics-oriented report about themselves. Callers normally prefix the returned lines with
timestamps or source information before logging them, so implementations should not append a
trailing newline.
*/
package reporter

// Reporter is the sole package interface
type Reporter interface {

	// Name returns the name of the reportable struct, normally used as a prefix for the
	// report output.
	Name() string

	// Report returns one or more printable lines separated by newlines. If resetCounters is
	// true, internal values used to produce the report are zeroed *after* the report is
	// produced. Implementations must manage concurrent access as Report may be called from a
	// signal-handling go-routine.
	Report(resetCounters bool) string
}
