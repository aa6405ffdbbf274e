package objectproxy

import "github.com/sirupsen/logrus"

// resolveStatus turns the error returned by a Frame/StdioChannel/Codec step
// into the status code handed back to the caller. Framing failures are
// internally 500 but surfaced as 400 to read/write callers so a malformed
// controller reply looks like a bad request rather than an outage; the true
// status is always logged first.
func resolveStatus(log *logrus.Entry, err error) Status {
	es, ok := err.(errStatus)
	if !ok {
		log.WithError(err).Error("unexpected internal error")
		return StatusInternalServerError
	}
	if es.Status == StatusInternalServerError {
		log.WithField("internalStatus", int(es.Status)).Warn(es.Message)
		return StatusBadRequest
	}
	return es.Status
}
