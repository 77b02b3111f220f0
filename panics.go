package taskscope

import (
	"fmt"
	"runtime"
	"strings"
)

// PanicLogger receives recovered panics with a cleaned stack trace.
type PanicLogger func(funcName string, err any, stack []byte, fields ...map[string]any)

// MakePanicHandler returns a function to be deferred that logs a panic and
// stops it from unwinding further.
func MakePanicHandler(logger PanicLogger) func(funcName string, fields ...map[string]any) {
	return func(funcName string, fields ...map[string]any) {
		if err := recover(); err != nil {
			logger(funcName, err, CaptureStack(), fields...)
		}
	}
}

// RecoverError must be deferred directly. It converts a panic into a
// DISPATCH_PANIC error stored in errp, keeping any error already set as
// the source when the panic value is not an error.
func RecoverError(funcName string, errp *error, fields map[string]any) {
	r := recover()
	if r == nil {
		return
	}
	if errp != nil {
		*errp = PanicError(funcName, r, CaptureStack(), fields)
	}
}

// PanicError builds the DISPATCH_PANIC error for a recovered value.
func PanicError(funcName string, r any, stack []byte, fields map[string]any) error {
	meta := map[string]any{
		"func":  funcName,
		"panic": fmt.Sprintf("%v", r),
		"stack": string(stack),
	}
	for k, v := range fields {
		meta[k] = v
	}
	source, _ := r.(error)
	return NewError(ErrDispatchPanic, fmt.Sprintf("panic in %s: %v", funcName, r), source, meta)
}

// DefaultPanicLogger writes panics through the fallback logger.
func DefaultPanicLogger(funcName string, err any, stack []byte, fields ...map[string]any) {
	logger := NewFmtLogger(nil)
	if len(fields) > 0 && fields[0] != nil {
		logger = logger.WithFields(fields[0]).(*FmtLogger)
	}
	logger.Error("recovered from panic in %s: %v (%T)\n%s", funcName, err, err, stack)
}

// CaptureStack returns the current goroutine stack without the panic frames.
func CaptureStack() []byte {
	buf := make([]byte, 8096)
	n := runtime.Stack(buf, false)
	return cleanStackTrace(buf[:n])
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}

	// drop the panic() frame and its file reference
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		lines = lines[panicLineIndex+2:]
	}

	return []byte(strings.Join(lines, "\n"))
}
