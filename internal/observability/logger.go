package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "weather-lookup-service"

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger() (*zap.Logger, error) {
	return newLoggerConfig(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")).Build()
}

// newLoggerConfig returns JSON output by default and a colored console encoder
// when format is "console". Sampling is off: every stored record and every
// upstream failure gets its own line.
func newLoggerConfig(level, format string) zap.Config {
	config := zap.NewProductionConfig()
	config.Level = parseLogLevel(level)
	config.Sampling = nil
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	config.InitialFields = map[string]interface{}{"service": serviceName}

	if strings.EqualFold(strings.TrimSpace(format), "console") {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return config
}

func parseLogLevel(s string) zap.AtomicLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "WARN":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "ERROR":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
