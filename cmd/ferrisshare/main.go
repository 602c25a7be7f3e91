package main

import (
	"flag"
	"strings"

	"github.com/sirupsen/logrus"

	"ferrisshare/config"
	"ferrisshare/server"
	"ferrisshare/trace"
)

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")

	// Trace flags
	traceEnabled := flag.Bool("trace", false, "Enable wire tracing")
	traceFilter := flag.String("trace-filter", "", "Trace filter pattern (glob on event kind: conn, msg, block, store)")

	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	// Initialize tracer
	if *traceEnabled {
		var filters []string
		if *traceFilter != "" {
			filters = strings.Split(*traceFilter, ",")
		}
		trace.Init(true, filters, nil)
		logrus.WithField("filters", filters).Info("Wire tracing enabled")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		logrus.WithField("error", err).Fatal("Invalid configuration")
	}

	logrus.WithFields(logrus.Fields{
		"addr": cfg.Addr(),
		"base": cfg.BasePath,
	}).Info("FerrisShare server starting")

	srv := server.NewServer(cfg)
	if err := srv.Run(); err != nil {
		logrus.WithField("error", err).Fatal("Server failed")
	}
}
