// Package logging wires the standard library's log package to
// gopkg.in/natefinch/lumberjack.v2 for rotation.
package logging

import (
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupDaemon configures rotating file logging for the zonecored daemon.
// A missing logfile is not fatal — it falls back to stderr, since a
// library-shaped core shouldn't force process exit from inside a logging
// setup call.
func SetupDaemon(logfile string) {
	log.SetFlags(log.Lshortfile | log.Ltime)
	if logfile == "" {
		return
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   logfile,
		MaxSize:    20,
		MaxBackups: 3,
		MaxAge:     14,
	})
}

// SetupCLI configures logging for zonectl: no timestamps by default, full
// file/line detail when verbose is requested.
func SetupCLI(verbose bool) {
	if verbose {
		log.SetFlags(log.Lshortfile | log.Ltime)
	} else {
		log.SetFlags(0)
	}
}
