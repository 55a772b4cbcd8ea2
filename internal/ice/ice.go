package ice

import (
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"strings"

	"github.com/lanikai/alohartc/internal/logging"
)

const defaultStunServer = "stun2.l.google.com:19302"

// log is the package-wide tagged logger used by every ICE component
// (bases, candidates, checklists, mDNS). It is distinct from trace, an
// older, env-gated raw debug print kept for its TRACE=ice opt-in.
var log = logging.DefaultLogger.WithTag("ice")

var (
	// Whether or not to allow IPv6 ICE candidates
	flagEnableIPv6 bool

	// Host:port of STUN server
	flagStunServer string

	traceEnabled = false
)

func init() {
	flag.BoolVar(&flagEnableIPv6, "6", false, "Allow use of IPv6")
	flag.StringVar(&flagStunServer, "stunServer", defaultStunServer, "STUN server address")

	for _, tag := range strings.Split(os.Getenv("TRACE"), ",") {
		if tag == "ice" {
			traceEnabled = true
			break
		}
	}
}

func trace(format string, a ...interface{}) {
	if !traceEnabled {
		return
	}

	format = "[ice] " + format
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}
	stdlog.Output(2, fmt.Sprintf(format, a...))
}
