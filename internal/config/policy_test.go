package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.PersonaConfidenceThreshold != 0.8 {
		t.Errorf("PersonaConfidenceThreshold = %v, want 0.8", p.PersonaConfidenceThreshold)
	}
	if p.AnalysisCooldownTurns != 2 {
		t.Errorf("AnalysisCooldownTurns = %d, want 2", p.AnalysisCooldownTurns)
	}
	if err := p.validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestPolicyStore_MissingFileUsesDefaults(t *testing.T) {
	ps := NewPolicyStore(filepath.Join(t.TempDir(), "nope.yaml"))
	if got := ps.Current(); got != DefaultPolicy() {
		t.Errorf("Current() = %+v, want defaults", got)
	}
}

func TestPolicyStore_LoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := "persona_confidence_threshold: 0.6\nanalysis_cooldown_turns: 4\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	ps := NewPolicyStore(path)
	got := ps.Current()
	if got.PersonaConfidenceThreshold != 0.6 {
		t.Errorf("PersonaConfidenceThreshold = %v, want 0.6", got.PersonaConfidenceThreshold)
	}
	if got.AnalysisCooldownTurns != 4 {
		t.Errorf("AnalysisCooldownTurns = %d, want 4", got.AnalysisCooldownTurns)
	}
	// Unspecified fields keep their defaults.
	if got.EnhancementConcurrency != DefaultPolicy().EnhancementConcurrency {
		t.Errorf("EnhancementConcurrency = %d, want default", got.EnhancementConcurrency)
	}
}

func TestPolicyStore_InvalidReloadKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("analysis_cooldown_turns: 3\n"), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	ps := NewPolicyStore(path)
	if ps.Current().AnalysisCooldownTurns != 3 {
		t.Fatalf("initial load failed: %+v", ps.Current())
	}

	// Out-of-range edit must be rejected and the old parameters retained.
	if err := os.WriteFile(path, []byte("persona_confidence_threshold: 7.0\n"), 0o644); err != nil {
		t.Fatalf("rewrite policy file: %v", err)
	}
	if err := ps.reload(); err == nil {
		t.Error("reload of invalid file should return an error")
	}
	if ps.Current().AnalysisCooldownTurns != 3 {
		t.Errorf("invalid reload replaced parameters: %+v", ps.Current())
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Policy)
		wantErr bool
	}{
		{"defaults", func(*Policy) {}, false},
		{"threshold above one", func(p *Policy) { p.PersonaConfidenceThreshold = 1.5 }, true},
		{"zero cooldown", func(p *Policy) { p.AnalysisCooldownTurns = 0 }, true},
		{"zero concurrency", func(p *Policy) { p.EnhancementConcurrency = 0 }, true},
		{"negative rate", func(p *Policy) { p.LookupRatePerSecond = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			err := p.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
