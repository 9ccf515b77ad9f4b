package interfaces

import (
	"fmt"
	"io"
	"os"
)

// TextLogger prints entries as plain text for interactive tools where JSON
// output is noisy.
type TextLogger struct {
	verbose bool
	out     io.Writer
	fields  []Field
}

// NewTextLogger creates a TextLogger writing to w, or stderr when w is nil.
// Debug and Info are only printed when verbose is set.
func NewTextLogger(w io.Writer, verbose bool) *TextLogger {
	if w == nil {
		w = os.Stderr
	}
	return &TextLogger{verbose: verbose, out: w}
}

func (tl *TextLogger) print(level, msg string, fields []Field) {
	all := append(append([]Field(nil), tl.fields...), fields...)
	fmt.Fprintf(tl.out, "[%s] %s %v\n", level, msg, all)
}

func (tl *TextLogger) Debug(msg string, fields ...Field) {
	if tl.verbose {
		tl.print("DEBUG", msg, fields)
	}
}

func (tl *TextLogger) Info(msg string, fields ...Field) {
	if tl.verbose {
		tl.print("INFO", msg, fields)
	}
}

func (tl *TextLogger) Warn(msg string, fields ...Field) {
	tl.print("WARN", msg, fields)
}

func (tl *TextLogger) Error(msg string, fields ...Field) {
	tl.print("ERROR", msg, fields)
}

func (tl *TextLogger) With(fields ...Field) Logger {
	return &TextLogger{
		verbose: tl.verbose,
		out:     tl.out,
		fields:  append(append([]Field(nil), tl.fields...), fields...),
	}
}
