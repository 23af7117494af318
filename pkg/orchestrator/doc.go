// Package orchestrator reconciles a desired set of services against the
// supervisors currently running on the host: computing additions,
// removals, and updates in dependency order, allocating per-group IP
// addresses, and re-adopting surviving supervisors after a restart.
package orchestrator
