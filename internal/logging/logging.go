package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu      sync.Mutex
	logFile *os.File
	logger  = zap.NewNop()
)

// ParseLevel maps a config level name to a zap level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return lvl, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}

// Init replaces the package logger. Console output goes to stderr so stdout
// stays free for the stdio transport; when logPath is set, JSON lines are
// also appended to that file.
func Init(logPath, level string) (*zap.Logger, error) {
	return InitWriter(os.Stderr, logPath, level)
}

// InitWriter is Init with an explicit console writer. A nil writer disables
// console output.
func InitWriter(console io.Writer, logPath, level string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()

	closeFileLocked()

	var cores []zapcore.Core
	if console != nil {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(console), lvl))
	}

	if logPath != "" {
		if dir := filepath.Dir(logPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		logFile = file
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), lvl))
	}

	if len(cores) == 0 {
		logger = zap.NewNop()
	} else {
		logger = zap.New(zapcore.NewTee(cores...))
	}
	return logger, nil
}

// L returns the current package logger.
func L() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	_ = logger.Sync()
	logger = zap.NewNop()
	return closeFileLocked()
}

func closeFileLocked() error {
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	return err
}

// LogRequest writes one traffic line at debug level, e.g.
// [IN] session=… transport=stdio method=tools/call payload={…}.
func LogRequest(direction, session, transport, method string, payload any) {
	l := L()
	if !l.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	l.Debug(buildRequestMessage(direction, session, transport, method, payload))
}

func buildRequestMessage(direction, session, transport, method string, payload any) string {
	dir := strings.TrimSpace(direction)
	if dir != "" {
		dir = strings.ToUpper(dir)
	}
	sessionValue := strings.TrimSpace(session)
	if sessionValue == "" {
		sessionValue = "unknown"
	}
	transportValue := strings.TrimSpace(transport)
	if transportValue == "" {
		transportValue = "unknown"
	}
	parts := []string{fmt.Sprintf("[%s]", dir)}
	parts = append(parts, fmt.Sprintf("session=%s", sessionValue))
	parts = append(parts, fmt.Sprintf("transport=%s", transportValue))
	if method = strings.TrimSpace(method); method != "" {
		parts = append(parts, fmt.Sprintf("method=%s", method))
	}
	parts = append(parts, fmt.Sprintf("payload=%s", formatPayload(payload)))
	return strings.Join(parts, " ")
}

func formatPayload(payload any) string {
	switch v := payload.(type) {
	case nil:
		return "null"
	case string:
		if strings.TrimSpace(v) == "" {
			return `""`
		}
		return v
	case []byte:
		if len(v) == 0 {
			return "[]"
		}
		return string(v)
	case json.RawMessage:
		if len(v) == 0 {
			return "null"
		}
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
