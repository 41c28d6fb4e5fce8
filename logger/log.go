package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Log   *zap.Logger
	level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
)

func init() {
	Log = build(false)
}

func encoderConfig(json bool) zapcore.EncoderConfig {
	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   zapcore.CapitalColorLevelEncoder, // 彩色等级
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}
	if json {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	return encCfg
}

func build(json bool) *zap.Logger {
	var enc zapcore.Encoder
	if json {
		enc = zapcore.NewJSONEncoder(encoderConfig(true))
	} else {
		enc = zapcore.NewConsoleEncoder(encoderConfig(false))
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), level)
	return zap.New(core, zap.AddCaller())
}

// Init 重建全局 logger，未知级别按 info 处理。
func Init(lvl string, json bool) {
	SetLevel(lvl)
	Log = build(json)
}

func SetLevel(lvl string) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(lvl)))); err != nil {
		l = zapcore.InfoLevel
	}
	level.SetLevel(l)
}

// Named 返回某个组件的子 logger。
func Named(name string) *zap.Logger { return Log.Named(name) }

func Sync() { _ = Log.Sync() }

// 快捷方法
func Info(msg string, fields ...zap.Field) { Log.Info(msg, fields...) }
func Infof(format string, args ...interface{}) {
	Log.Info(fmt.Sprintf(format, args...))
}
func Warn(msg string, fields ...zap.Field) { Log.Warn(msg, fields...) }
func Warnf(format string, args ...interface{}) {
	Log.Warn(fmt.Sprintf(format, args...))
}
func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }

func Errorf(format string, args ...interface{}) {
	Log.Error(fmt.Sprintf(format, args...))
}

func Debug(msg string, fields ...zap.Field) { Log.Debug(msg, fields...) }
