package journal

import "go.uber.org/zap"

// LogJournal writes fills to a zap logger. It backs the console-only mode
// used when no audit file can be opened.
type LogJournal struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *LogJournal {
	return &LogJournal{log: log.Named("journal")}
}

func (j *LogJournal) RecordFill(r FillRecord) error {
	j.log.Info("fill",
		zap.String("event_id", r.EventID),
		zap.Time("time", r.Time),
		zap.String("local_id", r.LocalID),
		zap.String("broker_id", r.BrokerID),
		zap.String("instrument", r.Instrument),
		zap.String("direction", r.Direction),
		zap.String("kind", r.Kind),
		zap.Int("qty", r.Qty),
		zap.Float64("price", r.Price),
		zap.Int("remaining", r.Remaining),
		zap.Float64("realized_pl", r.RealizedPL),
		zap.String("reason", r.Reason),
	)
	return nil
}

func (j *LogJournal) Close() error {
	_ = j.log.Sync()
	return nil
}
