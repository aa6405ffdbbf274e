package lwm2m

import (
	"encoding/base64"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// emitStateChanged writes a "/stateChanged:<base64(state)>\r\n" line to out,
// the same stdout stream StdioChannel writes request lines to; the channel's
// receive side already skips lines with this prefix rather than treating
// them as a framing error.
//
// Grounded on original_source/src/client/lwm2mclient.c's state notifications
// and internal/objectproxy/stdio.go's stateChangedPrefix handling.
func emitStateChanged(out io.Writer, log *logrus.Entry, state string) {
	if out == nil {
		return
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(state))
	if _, err := fmt.Fprintf(out, "/stateChanged:%s\r\n", encoded); err != nil {
		log.WithError(err).Warn("failed to emit state change notification")
	}
}
