// Package monitor implements the process monitor variants a supervisor
// installs around a spawned child: rotating-log capture and sandbox/
// filesystem row bookkeeping. Child I/O is always piped; no monitor
// changes or restores terminal settings.
package monitor
