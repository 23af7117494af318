package orchestrator

import (
	"fmt"

	"github.com/monocore/monocore/pkg/types"
)

// TopoSort orders services so that every dependency appears before the
// services that depend on it, matching the DAG Config.Validate already
// proved acyclic. It re-runs cycle detection rather than trusting the
// caller, since services is a subset of a config and may not have been
// validated as that exact set.
func TopoSort(services []types.Service) ([]string, error) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	byName := make(map[string]types.Service, len(services))
	for _, s := range services {
		byName[s.Name] = s
	}
	color := make(map[string]int, len(services))
	order := make([]string, 0, len(services))

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
			if _, ok := byName[dep]; !ok {
				continue // dependency outside this subset, already running or irrelevant here
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = black
		order = append(order, name)
		return nil
	}

	for _, s := range services {
		if err := visit(s.Name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Reversed returns a new slice with order's elements reversed, used to
// turn a spawn order into a teardown order.
func Reversed(order []string) []string {
	out := make([]string, len(order))
	for i, name := range order {
		out[len(order)-1-i] = name
	}
	return out
}
