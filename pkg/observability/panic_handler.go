package observability

import (
	"fmt"
	"runtime/debug"
)

// PanicError carries a recovered panic value and the stack at the point of recovery
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// RecoverPanic recovers from a panic and logs it with its stack.
// It must be called directly in a defer statement; the panic is not re-raised.
//
//	defer observability.RecoverPanic(logger, "audit worker")
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		LogPanic(logger, where, r)
	}
}

// LogPanic logs a value already obtained from recover()
func LogPanic(logger *Logger, where string, r interface{}) {
	logger.WithFields(map[string]interface{}{
		"panic":   fmt.Sprint(r),
		"stack":   string(debug.Stack()),
		"context": where,
	}).Error("PANIC recovered")
}

// NewPanicError converts a recovered value into an error, capturing the stack.
// It returns nil when r is nil.
func NewPanicError(r interface{}) error {
	if r == nil {
		return nil
	}
	return &PanicError{Value: r, Stack: debug.Stack()}
}
