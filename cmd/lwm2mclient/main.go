// Command lwm2mclient runs the LWM2M generic object proxy host: it speaks
// CoAP/DTLS-PSK to a device-management server and bridges every resource
// operation on its proxy objects to a controller process over stdio.
//
// Grounded on _examples/1stship-inventoryd's flag-based main, rebuilt on
// cobra for a discoverable subcommand tree (run/bootstrap/init/set-security).
package main

import (
	"fmt"
	"os"

	"github.com/CANDY-LINE/lwm2m-objectproxy/cmd/lwm2mclient/commands"
)

func main() {
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
