package sctp

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/gobwas/glob"
	"github.com/rs/zerolog"
)

// Logging is scoped per protocol entity: an association logs under
// "sctp:assoc:<name>" and its streams under "sctp:stream:<name>:<id>".
// The SCTP_DEBUG env var selects which
// scopes log verbosely, as a comma-separated list of glob patterns; a
// leading '-' excludes. Examples:
//
//	SCTP_DEBUG=sctp:*                      everything
//	SCTP_DEBUG=sctp:assoc:*                association state machines only
//	SCTP_DEBUG=sctp:*,-sctp:stream:*       all but per-stream delivery
//
// Matched scopes log at trace level, which includes the per-chunk and
// per-SACK records (V(2)); unmatched scopes stay at info.

const (
	logScopeAssoc  = "sctp:assoc"
	logScopeStream = "sctp:stream"
)

var (
	// defaultLoggerImpl is a zerolog instance with console writer
	defaultLoggerImpl = zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		color, _ := strconv.ParseBool(os.Getenv("SCTP_DEBUG_COLORS"))
		w.NoColor = !color
		w.TimeFormat = "15:04:05.000"
	})).With().Timestamp().Logger()

	defaultLoggerLevel = zerolog.InfoLevel

	// NewLogger defines function to create logger instance.
	NewLogger = func(scope string) logr.Logger {
		level := defaultLoggerLevel
		if scopeMatchesDebug(scope, os.Getenv("SCTP_DEBUG")) {
			level = zerolog.TraceLevel
		}

		logger := defaultLoggerImpl.Level(level)

		return zerologr.New(&logger).WithName(scope)
	}
)

// scopeMatchesDebug reports whether the scope is selected by the pattern
// list. Later patterns win, so "sctp:*,-sctp:stream:*" enables everything
// but stream delivery.
func scopeMatchesDebug(scope, patterns string) bool {
	matched := false
	for _, part := range strings.Split(patterns, ",") {
		part = strings.TrimSpace(part)
		if len(part) == 0 {
			continue
		}
		shouldMatch := true
		if part[0] == '-' {
			shouldMatch = false
			part = part[1:]
		}
		if g, err := glob.Compile(part); err == nil && g.Match(scope) {
			matched = shouldMatch
		}
	}
	return matched
}

// newAssociationLogger builds the logger an Association carries; name is
// the association's Options.Name (or generated uuid).
func newAssociationLogger(name string) logr.Logger {
	return NewLogger(logScopeAssoc + ":" + name).WithValues("assoc", name)
}

// newStreamLogger builds the logger for one stream of an association.
func newStreamLogger(assocName string, streamIdentifier uint16) logr.Logger {
	return NewLogger(fmt.Sprintf("%s:%s:%d", logScopeStream, assocName, streamIdentifier)).
		WithValues("assoc", assocName, "stream", streamIdentifier)
}

func init() {
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.999Z07:00"
	zerologr.VerbosityFieldName = ""
}
