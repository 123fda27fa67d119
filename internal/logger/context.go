package logger

import "context"

type contextKey struct{}

// WithContext attaches the logger to ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger carried by ctx, or the default logger.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(contextKey{}).(*Logger); ok {
			return l
		}
	}
	return Default()
}

// WithField returns a context whose logger carries one more field.
func WithField(ctx context.Context, key string, value interface{}) context.Context {
	return FromContext(ctx).WithField(key, value).WithContext(ctx)
}

// WithFields returns a context whose logger carries more fields.
func WithFields(ctx context.Context, fields Fields) context.Context {
	return FromContext(ctx).WithFields(fields).WithContext(ctx)
}

// GetField returns a field carried by the context logger.
func GetField(ctx context.Context, key string) (interface{}, bool) {
	v, ok := FromContext(ctx).Data[key]
	return v, ok
}

// GetRequestID returns the request id carried by ctx.
func GetRequestID(ctx context.Context) string {
	v, _ := GetField(ctx, FieldRequestID)
	s, _ := v.(string)
	return s
}

// CtxDebug logs at debug level with context fields.
func CtxDebug(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Debugf(format, args...)
}

// CtxInfo logs at info level with context fields.
func CtxInfo(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Infof(format, args...)
}

// CtxWarn logs at warn level with context fields.
func CtxWarn(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Warnf(format, args...)
}

// CtxError logs at error level with context fields.
func CtxError(ctx context.Context, format string, args ...any) {
	FromContext(ctx).Errorf(format, args...)
}
