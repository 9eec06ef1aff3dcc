// Package logger provides named loggers with a compact single-line format.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var mu sync.Mutex
var loggers = make(map[string]*Handle)

// Handle is a named logrus logger.
type Handle struct {
	logrus.Logger

	name string
}

func (l *Handle) Format(e *logrus.Entry) ([]byte, error) {
	const timeFormat = "2006/01/02 15:04:05.000000"
	timestamp := e.Time.Format(timeFormat)

	str := fmt.Sprintf("%v %s <%v>: %v",
		timestamp,
		l.name,
		strings.ToUpper(e.Level.String()),
		e.Message)

	if len(e.Data) != 0 {
		str += fmt.Sprintf(" %v", e.Data)
	}

	str += "\n"
	return []byte(str), nil
}

func newLogger(name string) *Handle {
	l := &Handle{name: name}
	l.Out = os.Stderr
	l.Formatter = l
	l.Level = logrus.InfoLevel
	l.Hooks = make(logrus.LevelHooks)
	return l
}

// GetLogger returns the logger mapped to name, creating it on first use.
func GetLogger(name string) *Handle {
	mu.Lock()
	defer mu.Unlock()

	if logger, ok := loggers[name]; ok {
		return logger
	}
	logger := newLogger(name)
	loggers[name] = logger
	return logger
}

// SetLogLevel sets the level on all loggers created so far.
func SetLogLevel(lvl logrus.Level) {
	mu.Lock()
	defer mu.Unlock()
	for _, logger := range loggers {
		logger.Level = lvl
	}
}

// SetOutFile redirects all loggers to the given file.
func SetOutFile(name string) {
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	for _, logger := range loggers {
		logger.SetOutput(file)
	}
}
