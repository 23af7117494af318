package types

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Service is a named workload descriptor as an operator writes it.
//
// Port, Env, RLimits and Mounts are kept as their wire-format strings
// (not parsed into structured fields here) so that two Service values
// can be compared with reflect.DeepEqual to decide, byte-for-byte,
// whether a service changed between reconciliations. Parsing and
// validating those strings against the VMM FFI's requirements happens
// in pkg/vm.
type Service struct {
	Name      string   `yaml:"name"`
	Image     string   `yaml:"image"`
	Group     string   `yaml:"group,omitempty"`
	Command   string   `yaml:"command,omitempty"`
	Args      []string `yaml:"args,omitempty"`
	Env       []string `yaml:"env,omitempty"`   // "KEY=VALUE"
	VCPUs     int      `yaml:"vcpus,omitempty"` // default 1
	RAMMiB    int      `yaml:"ram_mib,omitempty"`
	Ports     []string `yaml:"ports,omitempty"`  // "host:guest[/tcp|/udp]"
	Mounts    []string `yaml:"mounts,omitempty"` // "host_abs:guest_abs"
	RLimits   []string `yaml:"rlimits,omitempty"` // "RLIMIT_NAME=soft:hard"
	DependsOn []string `yaml:"depends_on,omitempty"`
}

// Group is a named collection providing a shared network domain and an
// optional IP pool.
type Group struct {
	Name string `yaml:"name"`
	CIDR string `yaml:"cidr,omitempty"` // optional; empty means no IP allocation for this group
}

// Config is a full set of services and groups, valid only once Validate
// returns nil. It is the YAML document shape an operator authors.
type Config struct {
	Groups   []Group   `yaml:"groups,omitempty"`
	Services []Service `yaml:"services"`
}

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the invariants from the data model: unique service
// names, vCPUs/RAM minimums, referenced groups exist, and the
// dependency graph is acyclic. It does not check anything that requires
// touching the filesystem or the VMM — that validation lives in pkg/vm.
func (c *Config) Validate() error {
	groups := make(map[string]bool, len(c.Groups))
	for _, g := range c.Groups {
		if g.Name == "" {
			return fmt.Errorf("group has empty name")
		}
		if groups[g.Name] {
			return fmt.Errorf("duplicate group name %q", g.Name)
		}
		groups[g.Name] = true
	}

	names := make(map[string]bool, len(c.Services))
	for _, s := range c.Services {
		if s.Name == "" {
			return fmt.Errorf("service has empty name")
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate service name %q", s.Name)
		}
		names[s.Name] = true

		if s.Group != "" && !groups[s.Group] {
			return fmt.Errorf("service %q references undeclared group %q", s.Name, s.Group)
		}
		if s.VCPUs < 0 {
			return fmt.Errorf("service %q has negative vcpus", s.Name)
		}
		if s.RAMMiB != 0 && s.RAMMiB < 1 {
			return fmt.Errorf("service %q ram must be at least 1 MiB", s.Name)
		}
		for _, e := range s.Env {
			k, _, ok := strings.Cut(e, "=")
			if !ok || !envKeyPattern.MatchString(k) {
				return fmt.Errorf("service %q has malformed env binding %q", s.Name, e)
			}
		}
	}
	for _, s := range c.Services {
		for _, dep := range s.DependsOn {
			if !names[dep] {
				return fmt.Errorf("service %q depends on undeclared service %q", s.Name, dep)
			}
		}
	}

	return detectCycle(c.Services)
}

// EffectiveVCPUs returns the service's vCPU count with the default of 1
// applied.
func (s Service) EffectiveVCPUs() int {
	if s.VCPUs <= 0 {
		return 1
	}
	return s.VCPUs
}

// Changed reports whether two snapshots of the same service differ in
// any field, including ones the VMM never sees such as DependsOn.
// Reconciliation uses this to decide to_update membership.
func Changed(a, b Service) bool {
	return !reflect.DeepEqual(a, b)
}

func detectCycle(services []Service) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	byName := make(map[string]Service, len(services))
	for _, s := range services {
		byName[s.Name] = s
	}
	color := make(map[string]int, len(services))

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case gray:
			return fmt.Errorf("dependency cycle involving %q", name)
		case black:
			return nil
		}
		color[name] = gray
		for _, dep := range byName[name].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for _, s := range services {
		if err := visit(s.Name); err != nil {
			return err
		}
	}
	return nil
}
