package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.Logger
}

func NewLogger(level string, format string) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    format,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{Logger: logger}, nil
}

// WithChannel scopes a logger to one channel ID, the unit every wire
// message and establishment handshake is keyed by.
func (l *Logger) WithChannel(channelID int64) *zap.Logger {
	return l.With(zap.Int64("channel_id", channelID))
}

// WithPeer scopes a logger to one remote peer ID.
func (l *Logger) WithPeer(peerID string) *zap.Logger {
	return l.With(zap.String("peer_id", peerID))
}

// WithDoc scopes a logger to one document ID.
func (l *Logger) WithDoc(docID string) *zap.Logger {
	return l.With(zap.String("doc_id", docID))
}

func (l *Logger) WithError(err error) *zap.Logger {
	return l.With(zap.Error(err))
}
