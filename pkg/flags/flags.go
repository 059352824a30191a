package flags

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// version is set at build time via -ldflags; it defaults to "dev" so a
// plain `go build` still produces a usable binary.
var version = "dev"

// ConfigureAndParse adds flags common to the broker's subcommands. This
// func calls flag.Parse(), so it should be called after all other flags
// have been configured on the default FlagSet.
func ConfigureAndParse() {
	logLevel := flag.String("log-level", log.InfoLevel.String(),
		"log level, must be one of: panic, fatal, error, warn, info, debug")
	logJSON := flag.Bool("log-json", false, "emit logs as JSON instead of text")
	printVersion := flag.Bool("version", false, "print version and exit")

	flag.Parse()

	setLogLevel(*logLevel)
	if *logJSON {
		log.SetFormatter(&log.JSONFormatter{})
	}
	maybePrintVersionAndExit(*printVersion)
}

func setLogLevel(logLevel string) {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("invalid log-level: %s", logLevel)
	}
	log.SetLevel(level)
}

func maybePrintVersionAndExit(printVersion bool) {
	if printVersion {
		fmt.Println(version)
		os.Exit(0)
	}
	log.Infof("running version %s", version)
}
