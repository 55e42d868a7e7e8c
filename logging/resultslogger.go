package logging

import (
	"github.com/rs/zerolog"

	"bastionwaf/waf"
)

// NewZerologSink creates a log sink that writes customer facing match
// records to zerolog, alongside whatever store persists them.
func NewZerologSink(logger zerolog.Logger) waf.LogSink {
	return &zerologSink{logger: logger.With().Str("component", "results").Logger()}
}

type zerologSink struct {
	logger zerolog.Logger
}

func (s *zerologSink) Store(l waf.WAFLog) error {
	s.logger.Info().
		Int("ruleId", l.RuleID).
		Str("requestId", l.RequestID).
		Str("domain", l.Domain).
		Str("clientIp", l.ClientIPAddress).
		Str("uri", l.URI).
		Int("severity", l.Severity).
		Int("accuracy", l.Accuracy).
		Msg(l.Message)
	return nil
}
