// Package flags carries flag and logging plumbing shared by every ccrouter
// command, the same way linkerd2's pkg/flags is shared by every controller
// binary.
package flags

import (
	"flag"
	"fmt"
	"os"

	"github.com/coremesh/ccrouter/pkg/version"
	log "github.com/sirupsen/logrus"
)

// ConfigureAndParse adds flags common to every ccrouter process to fs, parses
// args, and applies the resulting log level. It should be called after all
// command-specific flags have been registered on fs.
func ConfigureAndParse(fs *flag.FlagSet, args []string) {
	logLevel := fs.String("log-level", log.InfoLevel.String(),
		"log level, must be one of: panic, fatal, error, warn, info, debug")
	logFormat := fs.String("log-format", "text", "log format, must be one of: text, json")
	printVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		log.Fatalf("failed to parse flags: %s", err)
	}

	setLogFormat(*logFormat)
	setLogLevel(*logLevel)
	maybePrintVersionAndExit(*printVersion)
}

func setLogLevel(logLevel string) {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("invalid log-level: %s", logLevel)
	}
	log.SetLevel(level)
}

func setLogFormat(logFormat string) {
	switch logFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func maybePrintVersionAndExit(printVersion bool) {
	if printVersion {
		fmt.Println(version.Version)
		os.Exit(0)
	}
	log.Infof("running version %s", version.Version)
}
