package persist

import (
	"log"
	"os"
)

// persistDir is the subdirectory build.TempDir nests test artifacts for
// this package under.
const persistDir = "persist"

// Logger wraps the standard library logger with a startup/shutdown banner,
// matching the teacher's file-logging convention: one line marking when the
// process attached to the log file, one marking when it detached.
type Logger struct {
	*log.Logger
	file *os.File
}

// NewLogger opens (creating if necessary) the file at filename for append
// and returns a Logger that writes to it, having first written a STARTUP
// banner line.
func NewLogger(filename string) (*Logger, error) {
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0660)
	if err != nil {
		return nil, err
	}
	logger := log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile|log.LUTC)
	logger.Println("STARTUP: Logging has started.")
	return &Logger{Logger: logger, file: file}, nil
}

// Close writes a SHUTDOWN banner line and closes the underlying file. Safe
// to call more than once; the second call returns the error from closing an
// already-closed file descriptor, which callers may ignore.
func (l *Logger) Close() error {
	l.Println("SHUTDOWN: Logging has terminated.")
	return l.file.Close()
}

// Critical logs a critical error to l with a "CRITICAL:" prefix. It only
// writes to the log; it does not call build.Critical.
func (l *Logger) Critical(v ...interface{}) {
	l.Println(append([]interface{}{"CRITICAL:"}, v...)...)
}

// Severe logs a severe but non-fatal error to l.
func (l *Logger) Severe(v ...interface{}) {
	l.Println(append([]interface{}{"SEVERE:"}, v...)...)
}
