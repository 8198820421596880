// Package logger provides the leveled, component-tagged logger used across
// nanoclaw. Output is plain text on stderr; fields are rendered as sorted
// key=value pairs.
package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Level int32

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var (
	level atomic.Int32
	mu    sync.Mutex
	out   = os.Stderr
)

func init() {
	level.Store(int32(INFO))
}

func SetLevel(l Level) {
	level.Store(int32(l))
}

func GetLevel() Level {
	return Level(level.Load())
}

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	}
	return "UNKNOWN"
}

func logf(l Level, component, msg string, fields map[string]any) {
	if l < GetLevel() {
		return
	}

	var sb strings.Builder
	sb.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	sb.WriteString(" [")
	sb.WriteString(l.String())
	sb.WriteString("] [")
	sb.WriteString(component)
	sb.WriteString("] ")
	sb.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, fields[k])
		}
	}
	sb.WriteByte('\n')

	mu.Lock()
	defer mu.Unlock()
	fmt.Fprint(out, sb.String())
}

func DebugC(component, msg string)                        { logf(DEBUG, component, msg, nil) }
func DebugCF(component, msg string, f map[string]any)     { logf(DEBUG, component, msg, f) }
func InfoC(component, msg string)                         { logf(INFO, component, msg, nil) }
func InfoCF(component, msg string, f map[string]any)      { logf(INFO, component, msg, f) }
func WarnC(component, msg string)                         { logf(WARN, component, msg, nil) }
func WarnCF(component, msg string, f map[string]any)      { logf(WARN, component, msg, f) }
func ErrorC(component, msg string)                        { logf(ERROR, component, msg, nil) }
func ErrorCF(component, msg string, f map[string]any)     { logf(ERROR, component, msg, f) }
