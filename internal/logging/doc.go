// Package logging provides structured slog-based logging with file
// rotation for the Ixchel daemon. Logs are written as JSON to
// $IXCHEL_HOME/log/ixcheld.log, with an optional stderr mirror for
// foreground runs.
package logging
