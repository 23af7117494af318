// Package ioplex provides the rotating log sink and child-process I/O
// plexing used by monitors to capture a supervised process's output.
package ioplex
