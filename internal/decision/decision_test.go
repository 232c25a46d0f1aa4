package decision

import "testing"

func TestDecide(t *testing.T) {
	tests := []struct {
		name        string
		probability float64
		threshold   float64
		want        Outcome
	}{
		{"well below threshold", 0.0, 0.509, Aprobado},
		{"just below threshold", 0.5089999, 0.509, Aprobado},
		{"exactly at threshold rejects", 0.509, 0.509, Rechazado},
		{"above threshold", 0.75, 0.509, Rechazado},
		{"certain fraud", 1.0, 0.509, Rechazado},
		{"boundary at a different threshold", 0.49, 0.49, Rechazado},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.probability, tt.threshold); got != tt.want {
				t.Errorf("Decide(%v, %v) = %s, want %s", tt.probability, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestDecide_Monotonic(t *testing.T) {
	// Once a probability rejects, every higher probability must too.
	const threshold = 0.509
	rejected := false
	for _, p := range []float64{0.1, 0.3, 0.5, 0.509, 0.6, 0.9, 1.0} {
		got := Decide(p, threshold)
		if rejected && got != Rechazado {
			t.Fatalf("Decide(%v, %v) = %s after a lower probability rejected", p, threshold, got)
		}
		if got == Rechazado {
			rejected = true
		}
	}
	if !rejected {
		t.Fatal("expected at least one rejection")
	}
}
