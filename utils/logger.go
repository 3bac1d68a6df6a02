package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// PipelineLogger is the leveled logger used by every pipeline stage. Messages
// go to a dated log file and are mirrored to stdout.
type PipelineLogger struct {
	infoLogger  *log.Logger
	errorLogger *log.Logger
	debugLogger *log.Logger
	isVerbose   bool
}

// NewPipelineLogger creates a new PipelineLogger writing to a dated log file.
func NewPipelineLogger(verbose bool) *PipelineLogger {
	currentTime := time.Now().Format("2006-01-02")
	logFileName := fmt.Sprintf("pipeline_log_%s.log", currentTime)

	file, err := os.OpenFile(logFileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Printf("could not open log file %s, logging to stdout only: %v", logFileName, err)
		return NewPipelineLoggerTo(io.Discard, verbose)
	}

	return NewPipelineLoggerTo(file, verbose)
}

// NewPipelineLoggerTo creates a PipelineLogger writing to the given sink in
// addition to stdout. Used by tests to keep the working directory clean.
func NewPipelineLoggerTo(w io.Writer, verbose bool) *PipelineLogger {
	return &PipelineLogger{
		infoLogger:  log.New(w, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile),
		errorLogger: log.New(w, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile),
		debugLogger: log.New(w, "DEBUG: ", log.Ldate|log.Ltime|log.Lshortfile),
		isVerbose:   verbose,
	}
}

// Info logs an informational message.
func (l *PipelineLogger) Info(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	l.infoLogger.Println(msg)
	log.Println("INFO:", msg)
}

// Error logs an error message.
func (l *PipelineLogger) Error(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	l.errorLogger.Println(msg)
	log.Println("ERROR:", msg)
}

// Debug logs a debug message (only when verbose mode is enabled).
func (l *PipelineLogger) Debug(format string, v ...interface{}) {
	if !l.isVerbose {
		return
	}

	msg := fmt.Sprintf(format, v...)
	l.debugLogger.Println(msg)
	log.Println("DEBUG:", msg)
}

// LogRunStart logs the beginning of a domain pipeline run.
func (l *PipelineLogger) LogRunStart(domain, runID string) {
	l.Info("Starting pipeline run %s for domain %q", runID, domain)
}

// LogRunComplete logs the end of a domain pipeline run.
func (l *PipelineLogger) LogRunComplete(domain, runID string, startTime time.Time, status string) {
	l.Info("Pipeline run %s for domain %q finished with status %q. Duration: %v",
		runID, domain, status, time.Since(startTime))
}

// LogStageStart logs the beginning of a pipeline stage.
func (l *PipelineLogger) LogStageStart(domain, stage string) {
	l.Info("[%s] Starting stage %s", domain, stage)
}

// LogStageComplete logs the end of a pipeline stage.
func (l *PipelineLogger) LogStageComplete(domain, stage string, duration time.Duration) {
	l.Info("[%s] Stage %s completed. Duration: %v", domain, stage, duration)
}
