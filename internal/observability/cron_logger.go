package observability

import (
	"fmt"

	"github.com/rs/zerolog"
)

// CronLogger adapts zerolog to the cron.Logger interface.
type CronLogger struct {
	logger zerolog.Logger
}

// NewCronLogger creates a CronLogger that delegates to the given
// zerolog.Logger, adding a "component":"scheduler" field.
func NewCronLogger(logger zerolog.Logger) *CronLogger {
	return &CronLogger{logger: logger.With().Str("component", "scheduler").Logger()}
}

// Info logs a message at debug level; cron reports every wake-up through Info.
func (l *CronLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Debug().Fields(keyvalToMap(keyvals)).Msg(msg)
}

// Error logs a message at error level with optional key-value pairs.
func (l *CronLogger) Error(err error, msg string, keyvals ...interface{}) {
	l.logger.Error().Err(err).Fields(keyvalToMap(keyvals)).Msg(msg)
}

// keyvalToMap converts alternating key-value pairs to a map for zerolog fields.
func keyvalToMap(keyvals []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}
		m[key] = keyvals[i+1]
	}
	return m
}
