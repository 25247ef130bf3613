// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package log exports logging primitives that log to stderr and, when
// configured, also to Google Cloud Logging.
package log

// We call this log instead of logging for two reasons:
// 1) It's shorter to type;
// 2) it mimics Go's log package and can be used as a drop-in replacement for it.

import (
	"fmt"
	goLog "log"
	"os"

	"golang.org/x/net/context"
	"google.golang.org/cloud"
	"google.golang.org/cloud/logging"
)

// Logger is the interface for logging messages.
type Logger interface {
	// Printf writes a formatted message to the log.
	Printf(format string, v ...interface{})

	// Print writes a message to the log.
	Print(v ...interface{})

	// Println writes a line to the log.
	Println(v ...interface{})

	// Fatal writes a message to the log and aborts.
	Fatal(v ...interface{})

	// Fatalf writes a formatted message to the log and aborts.
	Fatalf(format string, v ...interface{})
}

// Level is the level of logging.
type Level int

// Different levels of logging.
const (
	Ldebug    = Level(logging.Debug)
	Linfo     = Level(logging.Info)
	Lerror    = Level(logging.Error)
	Ldisabled = Level(4000) // Some big value we'll never use.
	Linvalid  = Level(-2)
)

// Pre-allocated Loggers at each logging level.
var (
	Debug = newLogger(Ldebug)
	Info  = newLogger(Linfo)
	Error = newLogger(Lerror)

	defaultClient *logging.Client
	defaultLogger Logger = goLog.New(os.Stderr, "", goLog.Ldate|goLog.Ltime|goLog.LUTC|goLog.Lmicroseconds)

	currentLevel = Linfo
)

type logger struct {
	level  logging.Level
	client *logging.Client
}

var _ Logger = (*logger)(nil)

func (l Level) String() string {
	switch l {
	case Ldebug:
		return "debug"
	case Linfo:
		return "info"
	case Lerror:
		return "error"
	case Ldisabled:
		return "disabled"
	}
	return "unknown log level"
}

func levelFromString(s string) Level {
	switch s {
	case "debug":
		return Ldebug
	case "info":
		return Linfo
	case "error":
		return Lerror
	case "disabled":
		return Ldisabled
	}
	return Linvalid
}

// SetLevel sets the current logging level from a string ("debug", "info",
// "error", "disabled"). Lower levels than current will not be logged.
func SetLevel(s string) error {
	l := levelFromString(s)
	if l == Linvalid {
		return fmt.Errorf("invalid log level %q", s)
	}
	currentLevel = l
	return nil
}

// CurrentLevel returns the current logging level.
func CurrentLevel() Level {
	return currentLevel
}

// At returns whether the level will be logged currently.
func At(level Level) bool {
	return currentLevel <= level
}

// Printf writes a formatted message to the log.
func (l *logger) Printf(format string, v ...interface{}) {
	if l.level < logging.Level(currentLevel) {
		return // Don't log at lower levels.
	}
	if l.client != nil {
		l.client.Logger(l.level).Printf(format, v...)
	} else if defaultClient != nil {
		defaultClient.Logger(l.level).Printf(format, v...)
	}
	defaultLogger.Printf(format, v...)
}

// Print writes a message to the log.
func (l *logger) Print(v ...interface{}) {
	if l.level < logging.Level(currentLevel) {
		return
	}
	if l.client != nil {
		l.client.Logger(l.level).Print(v...)
	} else if defaultClient != nil {
		defaultClient.Logger(l.level).Print(v...)
	}
	defaultLogger.Print(v...)
}

// Println writes a line to the log.
func (l *logger) Println(v ...interface{}) {
	if l.level < logging.Level(currentLevel) {
		return
	}
	if l.client != nil {
		l.client.Logger(l.level).Println(v...)
	} else if defaultClient != nil {
		defaultClient.Logger(l.level).Println(v...)
	}
	defaultLogger.Println(v...)
}

// Fatal writes a message to the log and aborts, regardless of the current log level.
func (l *logger) Fatal(v ...interface{}) {
	if l.client != nil {
		l.client.Logger(l.level).Print(v...)
	} else if defaultClient != nil {
		defaultClient.Logger(l.level).Print(v...)
	}
	defaultLogger.Fatal(v...)
}

// Fatalf writes a formatted message to the log and aborts, regardless of the current log level.
func (l *logger) Fatalf(format string, v ...interface{}) {
	if l.client != nil {
		l.client.Logger(l.level).Printf(format, v...)
	} else if defaultClient != nil {
		defaultClient.Logger(l.level).Printf(format, v...)
	}
	defaultLogger.Fatalf(format, v...)
}

// Printf writes a formatted message to the log at Info level.
func Printf(format string, v ...interface{}) { Info.Printf(format, v...) }

// Print writes a message to the log at Info level.
func Print(v ...interface{}) { Info.Print(v...) }

// Println writes a line to the log at Info level.
func Println(v ...interface{}) { Info.Println(v...) }

// Fatal writes a message to the log and aborts.
func Fatal(v ...interface{}) { Info.Fatal(v...) }

// Fatalf writes a formatted message to the log and aborts.
func Fatalf(format string, v ...interface{}) { Info.Fatalf(format, v...) }

// Connect connects the package's loggers (Debug, Info, Error) in this
// address space to a GCP Logging instance writing to logName. Daemons
// with no GCP project set (neither -gcp-project nor the config file's
// gcp_project) never call this, so the GCP dependency stays inert unless
// explicitly configured.
func Connect(projectID, logName string) error {
	var err error
	defaultClient, err = newClient(projectID, logName)
	if err != nil {
		return err
	}
	return nil
}

func newClient(projectID, logName string) (*logging.Client, error) {
	client, err := logging.NewClient(context.Background(), projectID, logName, cloud.WithScopes(logging.Scope))
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newLogger(level Level) *logger {
	return &logger{level: logging.Level(level)}
}
