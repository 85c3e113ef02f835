package logger

import (
	"fmt"
	"time"
)

// OperationLogger provides structured logging for a single long-running
// operation, such as one upload batch moving through the pipeline.
type OperationLogger struct {
	logger    Logger
	operation string
	fields    Fields
	startTime time.Time
}

// NewOperationLogger creates a new operation logger.
func NewOperationLogger(operation string, logger Logger) *OperationLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}

	ol := &OperationLogger{
		logger:    logger.WithComponent("operation"),
		operation: operation,
		fields:    make(Fields),
		startTime: time.Now(),
	}

	ol.logger.WithField("operation", operation).Info("Starting operation")
	return ol
}

// WithField adds a field to the operation context.
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.fields[key] = value
	return ol
}

// Step logs a named step within the operation.
func (ol *OperationLogger) Step(step string) {
	ol.logger.WithFields(ol.merged(Fields{"step": step})).Info("Operation step")
}

// Progress logs row progress through the current step.
func (ol *OperationLogger) Progress(message string, processed, total int) {
	fields := Fields{"processed": processed, "total": total}
	if total > 0 {
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(processed)/float64(total)*100)
	}
	ol.logger.WithFields(ol.merged(fields)).Info(message)
}

// Success completes the operation successfully.
func (ol *OperationLogger) Success(message string) {
	ol.logger.WithFields(ol.merged(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "success",
	})).Info(message)
}

// Error completes the operation with an error.
func (ol *OperationLogger) Error(err error, message string) {
	ol.logger.WithError(err).WithFields(ol.merged(Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   "error",
	})).Error(message)
}

// Warning logs a warning during the operation.
func (ol *OperationLogger) Warning(message string) {
	ol.logger.WithFields(ol.merged(nil)).Warn(message)
}

func (ol *OperationLogger) merged(extra Fields) Fields {
	fields := Fields{"operation": ol.operation}
	for k, v := range ol.fields {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}
