package intents

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSink writes intents to the log. Used when no broker is configured.
type LogSink struct {
	log logrus.FieldLogger
}

// NewLogSink creates a log sink.
func NewLogSink(logger logrus.FieldLogger) *LogSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogSink{log: logger.WithField("component", "intents")}
}

func (s *LogSink) Publish(_ context.Context, intent Intent) error {
	s.log.WithFields(logrus.Fields{
		"intent_id": intent.ID,
		"kind":      intent.Kind,
		"asset_id":  intent.AssetID.Hex(),
		"dedup_key": intent.DedupKey,
		"event":     intent.Event,
		"status":    intent.Status,
	}).Info("Intent emitted")
	return nil
}
