package resolver

import (
	"errors"
	"testing"

	"github.com/harrison/deploypilot/internal/models"
)

func rec(id string, priority int, deps ...string) models.Recommendation {
	return models.Recommendation{
		ID:        id,
		Title:     "Recommendation " + id,
		Priority:  priority,
		DependsOn: deps,
	}
}

// assertValidOrder checks that every dependency appears strictly before
// its dependents.
func assertValidOrder(t *testing.T, input, ordered []models.Recommendation) {
	t.Helper()

	if len(ordered) != len(input) {
		t.Fatalf("expected %d items in order, got %d", len(input), len(ordered))
	}

	position := make(map[string]int, len(ordered))
	for i, r := range ordered {
		position[r.ID] = i
	}

	for _, r := range input {
		for _, dep := range r.DependsOn {
			if position[dep] >= position[r.ID] {
				t.Errorf("dependency %s at %d does not precede %s at %d",
					dep, position[dep], r.ID, position[r.ID])
			}
		}
	}
}

func TestResolveProducesValidTopologicalOrder(t *testing.T) {
	tests := []struct {
		name  string
		input []models.Recommendation
	}{
		{
			name:  "linear chain",
			input: []models.Recommendation{rec("a", 0), rec("b", 0, "a"), rec("c", 0, "b")},
		},
		{
			name:  "diamond",
			input: []models.Recommendation{rec("a", 0), rec("b", 0, "a"), rec("c", 0, "a"), rec("d", 0, "b", "c")},
		},
		{
			name:  "independent items",
			input: []models.Recommendation{rec("x", 0), rec("y", 0), rec("z", 0)},
		},
		{
			name: "multiple roots converging",
			input: []models.Recommendation{
				rec("r1", 0), rec("r2", 0), rec("m", 0, "r1", "r2"),
				rec("leaf", 0, "m"),
			},
		},
		{
			name:  "declared in reverse order",
			input: []models.Recommendation{rec("c", 0, "b"), rec("b", 0, "a"), rec("a", 0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ordered, err := Resolve(tt.input)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			assertValidOrder(t, tt.input, ordered)
		})
	}
}

func TestResolveTieBreaking(t *testing.T) {
	// Among simultaneously ready items, higher priority goes first;
	// equal priority falls back to input order.
	input := []models.Recommendation{
		rec("low", 1),
		rec("high", 9),
		rec("mid-first", 5),
		rec("mid-second", 5),
	}

	ordered, err := Resolve(input)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := []string{"high", "mid-first", "mid-second", "low"}
	for i, id := range want {
		if ordered[i].ID != id {
			t.Errorf("position %d: want %s, got %s", i, id, ordered[i].ID)
		}
	}
}

func TestResolveDeterministic(t *testing.T) {
	input := []models.Recommendation{
		rec("a", 2), rec("b", 2), rec("c", 3, "a"), rec("d", 1), rec("e", 3, "b"),
	}

	first, err := Resolve(input)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Resolve(input)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		for j := range first {
			if first[j].ID != again[j].ID {
				t.Fatalf("run %d: order differs at %d: %s vs %s", i, j, first[j].ID, again[j].ID)
			}
		}
	}
}

func TestResolveCycle(t *testing.T) {
	tests := []struct {
		name          string
		input         []models.Recommendation
		wantRemaining int
	}{
		{
			name:          "two node cycle",
			input:         []models.Recommendation{rec("a", 0, "b"), rec("b", 0, "a")},
			wantRemaining: 2,
		},
		{
			name: "cycle plus independent node",
			input: []models.Recommendation{
				rec("a", 0, "b"), rec("b", 0, "c"), rec("c", 0, "a"), rec("free", 0),
			},
			wantRemaining: 3,
		},
		{
			name: "node downstream of a cycle is also unorderable",
			input: []models.Recommendation{
				rec("a", 0, "b"), rec("b", 0, "a"), rec("child", 0, "a"),
			},
			wantRemaining: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ordered, err := Resolve(tt.input)
			if ordered != nil {
				t.Errorf("expected no partial order on cycle, got %d items", len(ordered))
			}

			var cycle *CyclicDependencyError
			if !errors.As(err, &cycle) {
				t.Fatalf("expected CyclicDependencyError, got %v", err)
			}
			if len(cycle.Remaining) != tt.wantRemaining {
				t.Errorf("expected %d remaining ids, got %v", tt.wantRemaining, cycle.Remaining)
			}
		})
	}
}

func TestResolveInputErrors(t *testing.T) {
	tests := []struct {
		name  string
		input []models.Recommendation
	}{
		{
			name:  "unknown dependency",
			input: []models.Recommendation{rec("a", 0, "ghost")},
		},
		{
			name:  "duplicate id",
			input: []models.Recommendation{rec("a", 0), rec("a", 0)},
		},
		{
			name:  "self dependency",
			input: []models.Recommendation{rec("a", 0, "a")},
		},
		{
			name:  "missing id",
			input: []models.Recommendation{{Title: "no id"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Resolve(tt.input); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestResolveEmpty(t *testing.T) {
	ordered, err := Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(ordered) != 0 {
		t.Errorf("expected empty order, got %d items", len(ordered))
	}
}

func TestDependents(t *testing.T) {
	input := []models.Recommendation{
		rec("a", 0), rec("b", 0, "a"), rec("c", 0, "a", "b"),
	}

	deps := Dependents(input)
	if got := deps["a"]; len(got) != 2 {
		t.Errorf("expected 2 dependents of a, got %v", got)
	}
	if got := deps["b"]; len(got) != 1 || got[0] != "c" {
		t.Errorf("expected [c] as dependents of b, got %v", got)
	}
	if got := deps["c"]; got != nil {
		t.Errorf("expected no dependents of c, got %v", got)
	}
}
