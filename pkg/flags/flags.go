// Package flags provides the command-line surface shared by the hub's
// binaries.
package flags

import (
	"flag"
	"fmt"
	"os"

	"github.com/heaplane/heaplane/pkg/version"
	log "github.com/sirupsen/logrus"
)

// ConfigureAndParse adds flags that are common to all go processes. This
// func calls cmd.Parse(), so it should be called after all other flags have
// been configured.
func ConfigureAndParse(cmd *flag.FlagSet, args []string) {
	logLevel := cmd.String("log-level", log.InfoLevel.String(),
		"log level, must be one of: panic, fatal, error, warn, info, debug, trace")
	logFormat := cmd.String("log-format", "plain",
		"log format, must be one of: plain, json")
	printVersion := cmd.Bool("version", false, "print version and exit")

	cmd.Parse(args)

	// set log timestamps
	SetLogFormat(*logFormat)

	if err := SetLogLevel(*logLevel); err != nil {
		log.Fatalf("invalid log-level: %s", *logLevel)
	}
	maybePrintVersionAndExit(*printVersion)
}

// AddTraceFlags adds the tracing flags to the given FlagSet
func AddTraceFlags(cmd *flag.FlagSet) *string {
	return cmd.String("trace-collector", "",
		"Enables OC Tracing with the specified endpoint as collector")
}

// SetLogLevel applies a log level by name. Reloadable at runtime.
func SetLogLevel(logLevel string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}

// SetLogFormat applies a log formatter by name. Anything that is not json
// falls back to plain text.
func SetLogFormat(format string) {
	log.SetFormatter(getFormatter(format))
}

func maybePrintVersionAndExit(printVersion bool) {
	if printVersion {
		fmt.Println(version.Version)
		os.Exit(0)
	}
	log.Infof("running version %s", version.Version)
}

func getFormatter(format string) log.Formatter {
	switch format {
	case "json":
		return &log.JSONFormatter{}
	default:
		return &log.TextFormatter{FullTimestamp: true}
	}
}
