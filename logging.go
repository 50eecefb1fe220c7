package qev

import "github.com/sirupsen/logrus"

// Logger is the structured logging interface the dispatcher and listener
// log through. It is satisfied directly by *logrus.Logger and
// *logrus.Entry, so callers wire in whatever logrus instance their process
// already uses instead of configuring a second one.
type Logger interface {
	WithField(key string, value interface{}) *logrus.Entry
	WithError(err error) *logrus.Entry
}

// discardLogger is installed when a [Config] is built without WithLogger.
// It satisfies [Logger] by handing back entries pointed at an io.Discard
// logrus.Logger, so call sites never need a nil check.
var discardLogger Logger = newDiscardLogger()

func newDiscardLogger() Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func logField(l Logger, op string) *logrus.Entry {
	return l.WithField("op", op)
}
