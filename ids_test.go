package manus

import (
	"strings"
	"sync"
	"testing"
)

func TestIDGeneratorPrefixes(t *testing.T) {
	gen := NewIDGenerator()

	tests := []struct {
		name   string
		id     string
		prefix string
	}{
		{"plan", gen.NewPlanID(), "plan-"},
		{"step", gen.NewStepID(), "step-"},
		{"thinkact", gen.NewThinkActID(), "thinkact-"},
		{"toolcall", gen.NewToolCallID(), "toolcall-"},
		{"parallel", gen.NewParallelExecID(), "par-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.HasPrefix(tt.id, tt.prefix) {
				t.Errorf("id %q does not start with %q", tt.id, tt.prefix)
			}
		})
	}
}

func TestIDGeneratorUniqueUnderConcurrency(t *testing.T) {
	gen := NewIDGenerator()

	const goroutines = 20
	const perGoroutine = 200

	var mu sync.Mutex
	seen := make(map[string]bool, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				local = append(local, gen.NewToolCallID())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range local {
				if seen[id] {
					t.Errorf("duplicate id %q", id)
				}
				seen[id] = true
			}
		}()
	}
	wg.Wait()

	if len(seen) != goroutines*perGoroutine {
		t.Fatalf("expected %d unique ids, got %d", goroutines*perGoroutine, len(seen))
	}
}
