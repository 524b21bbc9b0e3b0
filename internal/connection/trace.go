package connection

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ParseOrGenerateTraceID returns the validated caller-supplied trace id, or a
// fresh UUIDv7 when the parameter is absent or malformed.
func ParseOrGenerateTraceID(traceIDParam string, ok bool) string {
	log := logrus.WithField("prefix", "ParseOrGenerateTraceID")
	traceID := "unknown"
	if ok && traceIDParam != "" {
		parsed, err := uuid.Parse(traceIDParam)
		if err != nil {
			log.WithFields(logrus.Fields{
				"error":            err,
				"invalid_trace_id": traceIDParam,
			}).Warn("generating a new trace_id")
		} else {
			traceID = parsed.String()
		}
	}
	if traceID == "unknown" {
		generated, err := uuid.NewV7()
		if err != nil {
			log.Error(err)
		} else {
			traceID = generated.String()
		}
	}
	return traceID
}
