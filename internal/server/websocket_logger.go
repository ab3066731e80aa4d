package server

import (
	"go.uber.org/zap"
)

// WebSocketLogger provides structured logging for WebSocket events
type WebSocketLogger struct {
	logger *zap.Logger
}

// NewWebSocketLogger creates a new WebSocket logger
func NewWebSocketLogger(base *zap.Logger) *WebSocketLogger {
	if base == nil {
		base = zap.L()
	}
	return &WebSocketLogger{
		logger: base.With(zap.String("component", "websocket")),
	}
}

func (l *WebSocketLogger) fields(event, userID, clientID string, extra []zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("event", event),
		zap.String("user_id", userID),
		zap.String("client_id", clientID),
	}, extra...)
}

// Info logs info level event
func (l *WebSocketLogger) Info(event, userID, clientID string, fields ...zap.Field) {
	l.logger.Info("websocket_event", l.fields(event, userID, clientID, fields)...)
}

// Error logs error level event
func (l *WebSocketLogger) Error(event, userID, clientID string, err error, fields ...zap.Field) {
	l.logger.Error("websocket_error", l.fields(event, userID, clientID, append(fields, zap.Error(err)))...)
}

// Warn logs warning level event
func (l *WebSocketLogger) Warn(event, userID, clientID string, fields ...zap.Field) {
	l.logger.Warn("websocket_warning", l.fields(event, userID, clientID, fields)...)
}
