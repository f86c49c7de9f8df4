package testutil

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Importing testutil silences logrus unless tests run verbosely, in which case
// everything down to trace is logged.
func init() {
	if !isVerbose(os.Args) {
		logrus.SetOutput(io.Discard)
		return
	}

	logrus.SetLevel(logrus.TraceLevel)
}

func isVerbose(args []string) bool {
	for _, arg := range args {
		switch {
		case arg == "-test.v", arg == "-test.v=true":
			return true
		case strings.HasPrefix(arg, "-test.v=test2json"):
			return true
		}
	}
	return false
}
