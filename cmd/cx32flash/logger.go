package main

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// stderrLogger implements cx32flash.Logger as "LEVEL msg k=v ..." lines.
type stderrLogger struct {
	w io.Writer
}

func newStderrLogger(w io.Writer) *stderrLogger { return &stderrLogger{w: w} }

func (l *stderrLogger) Debug(msg string, kv ...interface{}) { l.log("DEBUG", msg, kv) }
func (l *stderrLogger) Info(msg string, kv ...interface{})  { l.log("INFO", msg, kv) }
func (l *stderrLogger) Error(msg string, kv ...interface{}) { l.log("ERROR", msg, kv) }

func (l *stderrLogger) log(level, msg string, kv []interface{}) {
	var b strings.Builder
	b.WriteString(time.Now().Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	if len(kv)%2 == 1 {
		fmt.Fprintf(&b, " %v=?", kv[len(kv)-1])
	}
	b.WriteByte('\n')
	io.WriteString(l.w, b.String())
}
