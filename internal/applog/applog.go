// Package applog builds the connector's structured logger: JSON to stdout
// plus a rotated file under the platform's per-user log directory,
// generalizing the teacher's plain *log.Logger (pkg/common/logging.go) into
// the zap + lumberjack stack fishymetrics uses.
package applog

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logFileName = "connector.log"

// Dir resolves the platform-specific log directory, mirroring the teacher's
// macOS/Linux split in pkg/common/logging.go.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	if _, err := os.Stat(filepath.Join(home, "Library")); err == nil {
		return filepath.Join(home, "Library", "Logs", "Anava"), nil
	}
	return filepath.Join(home, ".local", "share", "anava", "logs"), nil
}

// New builds a zap logger that writes JSON records to stdout and to a
// lumberjack-rotated file in Dir(). File permissions are owner-only (0600),
// matching the teacher's security comment in InitLogger.
func New() (*zap.Logger, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	path := filepath.Join(dir, logFileName)
	if _, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600); err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	encoderConf := zap.NewProductionEncoderConfig()
	encoderConf.EncodeTime = zapcore.RFC3339TimeEncoder

	stdoutCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConf), zapcore.AddSync(os.Stdout), zap.InfoLevel)

	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConf), zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
	}), zap.InfoLevel)

	return zap.New(zapcore.NewTee(stdoutCore, fileCore), zap.AddCaller()), nil
}
