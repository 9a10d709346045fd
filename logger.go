package mbbridge

import (
	"fmt"
	"io"
	"os"
)

// logger is a minimal prefixed logger. Confirmation lines and decoded values
// go to the output stream, diagnostics and warnings to the error stream, so
// polled values can be piped while errors stay on the console. Both streams
// are injectable for tests.
type logger struct {
	prefix string
	out    io.Writer
	errOut io.Writer
}

func newLogger(prefix string) (l *logger) {
	l = &logger{
		prefix: prefix,
		out:    os.Stdout,
		errOut: os.Stderr,
	}

	return
}

func (l *logger) Info(msg string) {
	fmt.Fprintf(l.out, "%s [info]: %s\n", l.prefix, msg)

	return
}

func (l *logger) Infof(format string, msg ...interface{}) {
	l.Info(fmt.Sprintf(format, msg...))

	return
}

func (l *logger) Warning(msg string) {
	fmt.Fprintf(l.errOut, "%s [warn]: %s\n", l.prefix, msg)

	return
}

func (l *logger) Warningf(format string, msg ...interface{}) {
	l.Warning(fmt.Sprintf(format, msg...))

	return
}

func (l *logger) Error(msg string) {
	fmt.Fprintf(l.errOut, "%s [error]: %s\n", l.prefix, msg)

	return
}

func (l *logger) Errorf(format string, msg ...interface{}) {
	l.Error(fmt.Sprintf(format, msg...))

	return
}

// Printf writes unprefixed output, used for decoded values and the final
// statistics block.
func (l *logger) Printf(format string, msg ...interface{}) {
	fmt.Fprintf(l.out, format, msg...)

	return
}
