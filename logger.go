package session

import (
	"context"
	"fmt"
	"strings"
)

type defLogger struct {
	name string
}

func defaultLogger() Logger {
	return defLogger{name: "session"}
}

func (d defLogger) Trace(msg string, args ...any) {}

func (d defLogger) Debug(msg string, args ...any) {}

func (d defLogger) Info(msg string, args ...any) {
	d.print("INF", msg, args...)
}

func (d defLogger) Warn(msg string, args ...any) {
	d.print("WRN", msg, args...)
}

func (d defLogger) Error(msg string, args ...any) {
	d.print("ERR", msg, args...)
}

func (d defLogger) Fatal(msg string, args ...any) {
	d.print("FTL", msg, args...)
}

func (d defLogger) WithContext(context.Context) Logger {
	return d
}

func (d defLogger) print(level, msg string, args ...any) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s", level, strings.ToUpper(d.name), msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	if len(args)%2 == 1 {
		fmt.Fprintf(&b, " %v", args[len(args)-1])
	}
	fmt.Println(b.String())
}

type staticProvider struct {
	logger Logger
}

func (p staticProvider) GetLogger(string) Logger {
	return p.logger
}

// ResolveLogger picks the logger for a named component. The provider wins
// when it returns a logger, then the fallback, then the default logger. The
// returned provider never yields nil.
func ResolveLogger(name string, provider LoggerProvider, fallback Logger) (LoggerProvider, Logger) {
	if provider != nil {
		if lgr := provider.GetLogger(name); lgr != nil {
			return provider, lgr
		}
	}
	if fallback == nil {
		fallback = defaultLogger()
	}
	return staticProvider{logger: fallback}, fallback
}
