package common

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger 日志接口
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// DefaultLogger 默认日志实现
type DefaultLogger struct {
	prefix string
	debug  bool
	logger *log.Logger
}

// NewLogger 创建日志器
func NewLogger(prefix string) Logger {
	return NewLoggerWithWriter(prefix, os.Stdout)
}

// NewLoggerWithWriter 创建写入指定 Writer 的日志器
func NewLoggerWithWriter(prefix string, w io.Writer) Logger {
	return &DefaultLogger{
		prefix: prefix,
		debug:  os.Getenv("LOG_DEBUG") == "true",
		logger: log.New(w, "", log.LstdFlags),
	}
}

func (l *DefaultLogger) Debug(msg string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, args...)
}

func (l *DefaultLogger) Info(msg string, args ...interface{}) {
	l.log("INFO", msg, args...)
}

func (l *DefaultLogger) Warn(msg string, args ...interface{}) {
	l.log("WARN", msg, args...)
}

func (l *DefaultLogger) Error(msg string, args ...interface{}) {
	l.log("ERROR", msg, args...)
}

func (l *DefaultLogger) Fatal(msg string, args ...interface{}) {
	l.log("FATAL", msg, args...)
	os.Exit(1)
}

func (l *DefaultLogger) log(level string, msg string, args ...interface{}) {
	formatted := fmt.Sprintf(msg, args...)
	l.logger.Printf("[%s] [%s] %s", l.prefix, level, formatted)
}
