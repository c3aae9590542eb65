package extract

import (
	"go.uber.org/zap"
)

// Extractor runs an ordered rule chain over a message. Earlier rules win:
// a later rule only fills fields that are still empty.
type Extractor struct {
	rules  []Rule
	logger *zap.Logger
}

// New returns an extractor for purchase mails carrying marker in the
// subject. A nil logger disables logging.
func New(marker string, logger *zap.Logger) *Extractor {
	return NewWithRules(DefaultRules(marker), logger)
}

func NewWithRules(rules []Rule, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{rules: rules, logger: logger}
}

// Extract returns the fields found in subject and body, or the zero Record
// when neither an item name nor a request number could be found.
func (e *Extractor) Extract(subject, body string) Record {
	var rec Record
	for _, r := range e.rules {
		partial, ok := r.Apply(subject, body, rec)
		if !ok {
			continue
		}
		rec.fill(partial)
		e.logger.Debug("rule matched",
			zap.String("rule", r.Name()),
			zap.String("request_number", partial.RequestNumber),
			zap.String("item", partial.ItemName),
			zap.String("remarks", partial.Remarks),
			zap.String("urgency", partial.Urgency),
			zap.String("office", partial.Office),
		)
	}
	if !rec.Actionable() {
		e.logger.Debug("no item name or request number", zap.String("subject", subject))
		return Record{}
	}
	return rec
}
