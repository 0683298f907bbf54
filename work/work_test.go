package work

import (
	"testing"
	"time"

	"github.com/gogpu/terrain/octree"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindDensity, "density"},
		{KindSurface, "surface"},
		{Kind(9), "Kind(9)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestFor(t *testing.T) {
	n := &octree.Node{ID: octree.RootID.Child(2), Epoch: 4, Incarnation: 9}
	got := For(n, KindSurface, 0.5)
	want := Request{Node: n.ID, Kind: KindSurface, Priority: 0.5, Epoch: 4, Incarnation: 9}
	if got != want {
		t.Errorf("For() = %+v, want %+v", got, want)
	}
}

func TestPriority(t *testing.T) {
	if Priority(0) != 1 {
		t.Errorf("Priority(0) = %v, want 1", Priority(0))
	}
	if Priority(10) >= Priority(5) {
		t.Error("Priority must decrease with distance")
	}
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{Limit: 3, Backoff: 100 * time.Millisecond}
	tests := []struct {
		attempts int
		delay    time.Duration
		done     bool
	}{
		{0, 0, false},
		{1, 100 * time.Millisecond, false},
		{2, 200 * time.Millisecond, false},
		{3, 400 * time.Millisecond, true},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempts); got != tt.delay {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempts, got, tt.delay)
		}
		if got := p.Exhausted(tt.attempts); got != tt.done {
			t.Errorf("Exhausted(%d) = %v, want %v", tt.attempts, got, tt.done)
		}
	}
	if d := p.Delay(1000); d <= 0 {
		t.Errorf("Delay(1000) = %v, want a large positive delay", d)
	}
}
