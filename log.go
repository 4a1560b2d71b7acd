package blecentral

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Logger is the leveled logger every package of the module writes to.
type Logger interface {
	Info(...interface{})
	Debug(...interface{})
	Error(...interface{})
	Warn(...interface{})

	Infof(string, ...interface{})
	Debugf(string, ...interface{})
	Errorf(string, ...interface{})
	Warnf(string, ...interface{})

	// ChildLogger returns a logger that adds tags to every entry.
	ChildLogger(tags map[string]interface{}) Logger
}

var (
	stdOnce sync.Once
	std     *entryLogger
)

// GetLogger returns the process wide logger, writing text to stderr at
// info level until SetLogLevel changes it.
func GetLogger() Logger {
	return root()
}

func root() *entryLogger {
	stdOnce.Do(func() {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
		l.SetLevel(logrus.InfoLevel)
		std = &entryLogger{logrus.NewEntry(l)}
	})
	return std
}

// SetLogLevel changes the level of the process wide logger. level is a
// logrus level name such as "debug" or "warn".
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "log level %q", level)
	}
	root().Logger.SetLevel(lvl)
	return nil
}

type entryLogger struct {
	*logrus.Entry
}

func (e *entryLogger) ChildLogger(tags map[string]interface{}) Logger {
	return &entryLogger{e.WithFields(tags)}
}
