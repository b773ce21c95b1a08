// Package rlog implements the leveled, structured logger shared by the
// kernel registry, the data-plane engines, and the uipcp daemon. It is
// reshaped from the teacher's ingest/log package: same level set and
// RFC5424 structured-data encoding, narrowed to the writers this system
// actually needs (stderr and a single log file).
package rlog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

func (l Level) String() string {
	switch l {
	case OFF:
		return "OFF"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// FromString parses a level name as found in a config file.
func FromString(s string) (Level, error) {
	switch s {
	case "OFF":
		return OFF, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "CRITICAL":
		return CRITICAL, nil
	}
	return OFF, fmt.Errorf("invalid log level %q", s)
}

var ErrNotOpen = errors.New("logger is not open")

// Logger is a minimal leveled logger with RFC5424 structured-data support,
// safe for concurrent use by every goroutine touching the kernel registry
// or a uipcp RIB.
type Logger struct {
	mtx      sync.Mutex
	wtrs     []io.Writer
	lvl      Level
	hostname string
	appname  string
	open     bool
}

// New builds a Logger writing to wtr at the given level.
func New(wtr io.Writer, lvl Level) *Logger {
	host, _ := os.Hostname()
	return &Logger{
		wtrs:     []io.Writer{wtr},
		lvl:      lvl,
		hostname: host,
		appname:  "rlite",
		open:     true,
	}
}

// NewFile opens (or creates) f in append mode and wraps it in a Logger.
func NewFile(f string, lvl Level) (*Logger, error) {
	fout, err := os.OpenFile(f, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0660)
	if err != nil {
		return nil, err
	}
	return New(fout, lvl), nil
}

// SetAppname overrides the RFC5424 APP-NAME field (e.g. "rlited", "uipcpd").
func (l *Logger) SetAppname(name string) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.appname = name
}

// AddWriter fans subsequent log lines out to an additional writer.
func (l *Logger) AddWriter(w io.Writer) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.wtrs = append(l.wtrs, w)
}

func (l *Logger) SetLevel(lvl Level) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.lvl = lvl
}

func sevForLevel(lvl Level) rfc5424.Priority {
	switch lvl {
	case DEBUG:
		return rfc5424.Debug
	case INFO:
		return rfc5424.Info
	case WARN:
		return rfc5424.Warning
	case ERROR:
		return rfc5424.Error
	case CRITICAL:
		return rfc5424.Crit
	default:
		return rfc5424.Info
	}
}

func (l *Logger) output(lvl Level, msg string, sds ...rfc5424.SDParam) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.open || lvl < l.lvl || lvl == OFF {
		return
	}
	msgID := lvl.String()
	m := rfc5424.Message{
		Priority:  rfc5424.Daemon | sevForLevel(lvl),
		Timestamp: time.Now(),
		Hostname:  l.hostname,
		AppName:   l.appname,
		MsgID:     msgID,
		Message:   []byte(msg),
	}
	if len(sds) > 0 {
		m.StructuredData = []rfc5424.StructuredData{{
			ID:     "rlite@0",
			Params: sds,
		}}
	}
	b, err := m.MarshalBinary()
	if err != nil {
		return
	}
	b = append(b, '\n')
	for _, w := range l.wtrs {
		_, _ = w.Write(b)
	}
}

func (l *Logger) Debug(msg string, sds ...rfc5424.SDParam)    { l.output(DEBUG, msg, sds...) }
func (l *Logger) Info(msg string, sds ...rfc5424.SDParam)     { l.output(INFO, msg, sds...) }
func (l *Logger) Warn(msg string, sds ...rfc5424.SDParam)     { l.output(WARN, msg, sds...) }
func (l *Logger) Error(msg string, sds ...rfc5424.SDParam)    { l.output(ERROR, msg, sds...) }
func (l *Logger) Critical(msg string, sds ...rfc5424.SDParam) { l.output(CRITICAL, msg, sds...) }

// KV is a convenience constructor for an rfc5424.SDParam.
func KV(name, value string) rfc5424.SDParam {
	return rfc5424.SDParam{Name: name, Value: value}
}

// Discard returns a Logger that drops everything, for tests.
func Discard() *Logger {
	return New(io.Discard, OFF)
}
