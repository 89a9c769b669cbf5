package config

import (
	"io"
	"log"
	"os"
)

// LogFlags applies UTC timestamps to every logger this module creates,
// so log lines from different components line up regardless of the
// host's local timezone.
const LogFlags = log.Ldate | log.Ltime | log.LUTC

func (c *Config) setLoggers() error {
	c.AccessLogger = log.New(os.Stdout, "", LogFlags)
	c.ErrorLogger = log.New(os.Stderr, "", LogFlags)

	if c.AccessLogLevel == "none" {
		c.AccessLogger.SetOutput(io.Discard)
	}
	return nil
}
