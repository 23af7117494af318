// Package supervisor spawns and watches a single named child process,
// driving it through Spawning -> Running -> Exiting -> Exited and
// mirroring its exit code back to its own.
package supervisor
