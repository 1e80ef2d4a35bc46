package log

import (
	"fmt"
	"strings"
)

// Format is a logging format. It implements the pflag.Value interface.
type Format uint

const (
	// FmtLogfmt is the "logfmt" logging format.
	FmtLogfmt Format = iota
	// FmtJSON is the JSON logging format.
	FmtJSON
)

var formatNames = []string{
	FmtLogfmt: "logfmt",
	FmtJSON:   "JSON",
}

func (f *Format) String() string {
	if int(*f) < len(formatNames) {
		return formatNames[*f]
	}
	return fmt.Sprintf("Format(%d)", uint(*f))
}

// Set parses a format name, case-insensitively.
func (f *Format) Set(s string) error {
	for i, name := range formatNames {
		if strings.EqualFold(s, name) {
			*f = Format(i)
			return nil
		}
	}
	return fmt.Errorf("logging: invalid log format: '%s'", s)
}

func (f *Format) Type() string {
	return "[" + strings.Join(formatNames, ",") + "]"
}

// Level is a log level. It implements the pflag.Value interface.
type Level uint

const (
	// LevelDebug is the log level for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the log level for informative messages.
	LevelInfo
	// LevelWarn is the log level for warning messages.
	LevelWarn
	// LevelError is the log level for error messages.
	LevelError
)

var levelNames = []string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l *Level) String() string {
	if int(*l) < len(levelNames) {
		return levelNames[*l]
	}
	return fmt.Sprintf("Level(%d)", uint(*l))
}

// Set parses a level name, case-insensitively.
func (l *Level) Set(s string) error {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("logging: invalid log level: '%s'", s)
}

func (l *Level) Type() string {
	return "[" + strings.Join(levelNames, ",") + "]"
}
