/*
Package log provides structured logging for monocore using zerolog.

A single global Logger is configured once via Init; every subsystem derives
a component-scoped child logger from it (WithComponent, WithService,
WithSupervisorPID) rather than passing loggers around explicitly. JSON
output is used in production; a console writer is available for local
debugging.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	orchLog := log.WithComponent("orchestrator")
	orchLog.Info().Str("service", "tail-service").Msg("service scheduled")

Per-child-process output (the microVM's own stdout/stderr/tty) does not go
through this package — see pkg/ioplex for the rotating log that backs that.
*/
package log
