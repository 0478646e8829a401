package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// ZerologAdapter sends watermill's internal logging to zerolog.
type ZerologAdapter struct {
	logger zerolog.Logger
}

func NewZerologAdapter(l zerolog.Logger) watermill.LoggerAdapter {
	return &ZerologAdapter{logger: l.With().Str("component", "watermill").Logger()}
}

func (z *ZerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	z.logger.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

func (z *ZerologAdapter) Info(msg string, fields watermill.LogFields) {
	z.logger.Info().Fields(map[string]interface{}(fields)).Msg(msg)
}

// Debug is demoted to trace; watermill is chatty at debug level.
func (z *ZerologAdapter) Debug(msg string, fields watermill.LogFields) {
	z.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (z *ZerologAdapter) Trace(msg string, fields watermill.LogFields) {
	z.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (z *ZerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &ZerologAdapter{logger: z.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}
