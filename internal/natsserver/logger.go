package natsserver

import "github.com/rs/zerolog"

// serverLogger routes nats-server log lines into zerolog. Server notices are
// demoted to debug so they do not drown out the registry's own logging.
type serverLogger struct {
	logger zerolog.Logger
}

func newZerologAdapter(l zerolog.Logger) *serverLogger {
	return &serverLogger{logger: l.With().Str("source", "nats-server").Logger()}
}

func (z *serverLogger) Noticef(format string, v ...any) { z.logger.Debug().Msgf(format, v...) }
func (z *serverLogger) Warnf(format string, v ...any)   { z.logger.Warn().Msgf(format, v...) }
func (z *serverLogger) Errorf(format string, v ...any)  { z.logger.Error().Msgf(format, v...) }
func (z *serverLogger) Debugf(format string, v ...any)  { z.logger.Debug().Msgf(format, v...) }
func (z *serverLogger) Tracef(format string, v ...any)  { z.logger.Trace().Msgf(format, v...) }

// Fatalf logs at error level; the embedded server shuts itself down and the
// daemon reports the failure, so the process is not exited here.
func (z *serverLogger) Fatalf(format string, v ...any) { z.logger.Error().Msgf(format, v...) }
