// internal/logger/logger.go
package logger

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger configuration
type Config struct {
	LogsDirectory string
	LogFileFormat string
	TimeZone      string
	Debug         bool
}

var (
	initialized int32 // 0 = not initialized, 1 = initialized
	sugar       *zap.SugaredLogger
	base        *zap.Logger
	logFile     *os.File
	timeZone    *time.Location
	logFilePath string
	mu          sync.Mutex // protect against concurrent initialization
)

// SetupLogger initializes the logger with file and console output.
func SetupLogger(config Config) error {
	mu.Lock()
	defer mu.Unlock()

	if atomic.LoadInt32(&initialized) == 1 {
		return fmt.Errorf("logger already initialized")
	}

	if config.TimeZone == "" {
		config.TimeZone = "Asia/Kolkata"
	}
	loc, err := time.LoadLocation(config.TimeZone)
	if err != nil {
		return fmt.Errorf("failed to load time zone '%s': %w", config.TimeZone, err)
	}
	timeZone = loc

	if err := os.MkdirAll(config.LogsDirectory, 0775); err != nil {
		return fmt.Errorf("failed to create logs directory '%s': %w", config.LogsDirectory, err)
	}

	logFileName := fmt.Sprintf(config.LogFileFormat, time.Now().In(loc).Format("2006-01-02"))

	// Respect whether LogFileFormat is an absolute path or not
	if filepath.IsAbs(logFileName) {
		logFilePath = logFileName
	} else {
		logFilePath = filepath.Join(config.LogsDirectory, logFileName)
	}

	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0664)
	if err != nil {
		return fmt.Errorf("failed to open log file '%s': %w", logFilePath, err)
	}
	logFile = f

	level := zapcore.InfoLevel
	if config.Debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.In(timeZone).Format("2006-01-02 15:04:05 MST"))
	}
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), level),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), level),
	)

	// Skip LogMessage and the LogInfo/LogWarn wrapper so callers are reported.
	base = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
	sugar = base.Sugar()

	atomic.StoreInt32(&initialized, 1)
	LogInfo("Logger initialized, writing to %s", logFilePath)
	return nil
}

// Sync flushes buffered entries and closes the log file.
func Sync() {
	mu.Lock()
	defer mu.Unlock()

	if atomic.LoadInt32(&initialized) == 0 {
		return
	}
	_ = base.Sync()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	atomic.StoreInt32(&initialized, 0)
}

func GetLogFilePath() string {
	return logFilePath
}

func IsInitialized() bool {
	return atomic.LoadInt32(&initialized) == 1
}

func LogMessage(level zapcore.Level, message string, v ...interface{}) {
	if !IsInitialized() {
		log.Printf("[%s] %s", level.CapitalString(), fmt.Sprintf(message, v...))
		return
	}

	switch level {
	case zapcore.DebugLevel:
		sugar.Debugf(message, v...)
	case zapcore.WarnLevel:
		sugar.Warnf(message, v...)
	case zapcore.ErrorLevel:
		sugar.Errorf(message, v...)
	default:
		sugar.Infof(message, v...)
	}
}

func LogDebug(message string, v ...interface{}) { LogMessage(zapcore.DebugLevel, message, v...) }
func LogInfo(message string, v ...interface{})  { LogMessage(zapcore.InfoLevel, message, v...) }
func LogWarn(message string, v ...interface{})  { LogMessage(zapcore.WarnLevel, message, v...) }
func LogError(message string, v ...interface{}) { LogMessage(zapcore.ErrorLevel, message, v...) }
func LogFatal(message string, v ...interface{}) {
	LogMessage(zapcore.ErrorLevel, message, v...)
	Sync()
	os.Exit(1)
}

func LogHTTPRequest(r *http.Request) {
	clientIP := GetClientIP(r)
	LogInfo("HTTP %s %s from %s", r.Method, r.URL.Path, clientIP)
}

func LogHTTPError(r *http.Request, status int, err error) {
	clientIP := GetClientIP(r)
	LogError("HTTP %d error for %s %s from %s: %v", status, r.Method, r.URL.Path, clientIP, err)
}

func GetClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
