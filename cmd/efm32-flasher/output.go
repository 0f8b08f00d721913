package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	debugColor   = color.New(color.FgHiBlack)
	infoColor    = color.New(color.FgCyan)
)

// sink is the session's diagnostic output. Driver messages reporting
// success or failure are coloured.
type sink struct {
	w io.Writer
}

func (s sink) Write(p []byte) (int, error) {
	msg := strings.ToLower(string(p))
	var err error
	switch {
	case strings.Contains(msg, "successful"):
		_, err = successColor.Fprint(s.w, string(p))
	case strings.Contains(msg, "error") || strings.Contains(msg, "failed"):
		_, err = errorColor.Fprint(s.w, string(p))
	default:
		_, err = s.w.Write(p)
	}
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// logger prints debug traces to w when --verbose is set.
type logger struct {
	w io.Writer
}

func (l logger) Debug(msg string, keysAndValues ...interface{}) {
	l.print(debugColor, "DEBUG", msg, keysAndValues)
}

func (l logger) Info(msg string, keysAndValues ...interface{}) {
	l.print(infoColor, "INFO ", msg, keysAndValues)
}

func (l logger) Error(msg string, keysAndValues ...interface{}) {
	l.print(errorColor, "ERROR", msg, keysAndValues)
}

func (l logger) print(c *color.Color, level, msg string, kv []interface{}) {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	if len(kv)%2 == 1 {
		fmt.Fprintf(&b, " %v", kv[len(kv)-1])
	}
	c.Fprintf(l.w, "%s %s\n", level, b.String())
}
