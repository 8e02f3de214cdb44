package events

import "go.uber.org/zap"

// ZapSink logs every record as a structured entry.
type ZapSink struct {
	log *zap.Logger
}

func NewZapSink(log *zap.Logger) *ZapSink {
	return &ZapSink{log: log}
}

func (s *ZapSink) Emit(r Record) {
	s.log.Info("event",
		zap.String("kind", string(r.Kind())),
		zap.Any("record", r),
	)
}
