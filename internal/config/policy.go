package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Policy holds the tunable parameters of the tool invocation policy and the
// enhancement pipeline. The numbers are tuned empirically, so they live in a
// YAML file that is hot-reloaded rather than in code.
type Policy struct {
	PersonaConfidenceThreshold float64 `yaml:"persona_confidence_threshold"`
	ReclassifyAfterTurns       int     `yaml:"reclassify_after_turns"`
	AnalysisCooldownTurns      int     `yaml:"analysis_cooldown_turns"`
	EnhancementConcurrency     int     `yaml:"enhancement_concurrency"`
	LookupRatePerSecond        float64 `yaml:"lookup_rate_per_second"`
	MaxToolCallsPerTurn        int     `yaml:"max_tool_calls_per_turn"`
}

// DefaultPolicy returns the shipped defaults.
func DefaultPolicy() Policy {
	return Policy{
		PersonaConfidenceThreshold: 0.8,
		ReclassifyAfterTurns:       2,
		AnalysisCooldownTurns:      2,
		EnhancementConcurrency:     3,
		LookupRatePerSecond:        5.0,
		MaxToolCallsPerTurn:        5,
	}
}

func (p *Policy) validate() error {
	if p.PersonaConfidenceThreshold < 0 || p.PersonaConfidenceThreshold > 1 {
		return fmt.Errorf("persona_confidence_threshold must be in [0,1], got %v", p.PersonaConfidenceThreshold)
	}
	if p.AnalysisCooldownTurns < 1 {
		return fmt.Errorf("analysis_cooldown_turns must be >= 1, got %d", p.AnalysisCooldownTurns)
	}
	if p.EnhancementConcurrency < 1 {
		return fmt.Errorf("enhancement_concurrency must be >= 1, got %d", p.EnhancementConcurrency)
	}
	if p.LookupRatePerSecond <= 0 {
		return fmt.Errorf("lookup_rate_per_second must be > 0, got %v", p.LookupRatePerSecond)
	}
	return nil
}

// PolicyStore serves the current policy parameters and optionally watches
// the backing file for changes.
type PolicyStore struct {
	mu      sync.RWMutex
	current Policy
	path    string
	watcher *fsnotify.Watcher
}

// NewPolicyStore creates a store seeded with defaults, then overlays the
// file at path if it exists. A missing file is not an error.
func NewPolicyStore(path string) *PolicyStore {
	ps := &PolicyStore{current: DefaultPolicy(), path: path}
	if path != "" {
		if err := ps.reload(); err != nil {
			log.Printf("⚠️ [POLICY] Using defaults, could not load %s: %v", path, err)
		}
	}
	return ps
}

// Current returns a copy of the active policy parameters.
func (ps *PolicyStore) Current() Policy {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.current
}

// PersonaThreshold is a convenience accessor for the stage machine.
func (ps *PolicyStore) PersonaThreshold() float64 {
	return ps.Current().PersonaConfidenceThreshold
}

func (ps *PolicyStore) reload() error {
	data, err := os.ReadFile(ps.path)
	if err != nil {
		return err
	}

	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := policy.validate(); err != nil {
		return fmt.Errorf("invalid policy file: %w", err)
	}

	ps.mu.Lock()
	ps.current = policy
	ps.mu.Unlock()

	log.Printf("📋 [POLICY] Loaded policy from %s (threshold=%.2f, cooldown=%d turns, concurrency=%d)",
		ps.path, policy.PersonaConfidenceThreshold, policy.AnalysisCooldownTurns, policy.EnhancementConcurrency)
	return nil
}

// Watch starts watching the policy file for changes and reloads on write.
// Invalid edits keep the previous parameters.
func (ps *PolicyStore) Watch() error {
	if ps.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	ps.watcher = watcher

	// Watch the directory: editors replace files, which drops the watch on
	// the file itself.
	dir := filepath.Dir(ps.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		base := filepath.Base(ps.path)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := ps.reload(); err != nil {
					log.Printf("⚠️ [POLICY] Reload failed, keeping previous parameters: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️ [POLICY] Watcher error: %v", err)
			}
		}
	}()

	log.Printf("👀 [POLICY] Watching %s for changes", ps.path)
	return nil
}

// Close stops the file watcher.
func (ps *PolicyStore) Close() {
	if ps.watcher != nil {
		ps.watcher.Close()
	}
}
