package types

import "testing"

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := Config{
		Groups: []Group{{Name: "main", CIDR: "10.0.0.0/24"}},
		Services: []Service{
			{Name: "sleep", Group: "main", Command: "/bin/sleep"},
			{Name: "tail", Group: "main", Command: "/usr/bin/tail", DependsOn: []string{"sleep"}},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsUnknownGroup(t *testing.T) {
	cfg := Config{
		Services: []Service{{Name: "a", Group: "missing"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for undeclared group")
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	cfg := Config{
		Services: []Service{
			{Name: "a", DependsOn: []string{"b"}},
			{Name: "b", DependsOn: []string{"a"}},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestValidateRejectsDuplicateName(t *testing.T) {
	cfg := Config{
		Services: []Service{{Name: "a"}, {Name: "a"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestValidateRejectsMalformedEnv(t *testing.T) {
	cfg := Config{
		Services: []Service{{Name: "a", Env: []string{"1BAD=x"}}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected malformed env error")
	}
}

func TestEffectiveVCPUsDefaultsToOne(t *testing.T) {
	s := Service{}
	if got := s.EffectiveVCPUs(); got != 1 {
		t.Fatalf("expected default 1 vcpu, got %d", got)
	}
}

func TestChangedDetectsFieldDiff(t *testing.T) {
	a := Service{Name: "x", Args: []string{"-f"}}
	b := Service{Name: "x", Args: []string{"-f", "-v"}}
	if !Changed(a, b) {
		t.Fatal("expected services to differ")
	}
	if Changed(a, a) {
		t.Fatal("expected identical services to not differ")
	}
}
