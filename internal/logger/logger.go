package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/iurnickita/teapot/internal/logger/config"
)

const (
	RequestIDHeader = "X-Request-ID"
	requestIDKey    = "requestID"
)

func NewZapLog(cfg config.Config) (*zap.Logger, error) {
	// преобразуем текстовый уровень логирования в zap.AtomicLevel
	level := cfg.LogLevel
	if level == "" {
		level = "info"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	// создаём новую конфигурацию логера
	zapcfg := zap.NewProductionConfig()
	// устанавливаем уровень
	zapcfg.Level = lvl
	zapcfg.EncoderConfig.TimeKey = "timestamp"
	zapcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// создаём логер на основе конфигурации
	return zapcfg.Build()
}

// RequestID возвращает идентификатор запроса, назначенный RequestLogMdlw.
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// middleware-логер для входящих HTTP-запросов.
func RequestLogMdlw(zaplog *zap.Logger) gin.HandlerFunc {
	if zaplog == nil {
		zaplog = zap.NewNop()
	}

	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		zaplog.Debug("got incoming HTTP request",
			zap.String("request_id", requestID),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.Int64("content_length", c.Request.ContentLength),
		)

		handlerStart := time.Now()
		c.Next()
		handlerDuration := time.Since(handlerStart)

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("code", c.Writer.Status()),
			zap.Int("length", c.Writer.Size()),
			zap.Duration("duration", handlerDuration),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		zaplog.Info("send HTTP response", fields...)
	}
}
