package session

import "github.com/sirupsen/logrus"

// LogNotifier reports user messages through logrus.
type LogNotifier struct {
	log *logrus.Entry
}

func NewLogNotifier(log *logrus.Entry) *LogNotifier {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Info(msg string) {
	n.log.Info(msg)
}

func (n *LogNotifier) Error(msg string) {
	n.log.Error(msg)
}
