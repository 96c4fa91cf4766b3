package continuous

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseIdle, PhaseStarting, true},
		{PhaseStarting, PhaseRunning, true},
		{PhaseStarting, PhaseStopping, true},
		{PhaseStarting, PhaseFailed, true},
		{PhaseRunning, PhaseStopping, true},
		{PhaseRunning, PhaseFailed, true},
		{PhaseStopping, PhaseStopped, true},
		{PhaseStopping, PhaseFailed, true},

		{PhaseRunning, PhaseIdle, false},
		{PhaseRunning, PhaseStopped, false},
		{PhaseStarting, PhaseStopped, false},
		{PhaseStopping, PhaseRunning, false},
		{PhaseStopped, PhaseFailed, false},
		{PhaseFailed, PhaseStopped, false},
		{PhaseStopped, PhaseRunning, false},
		{PhaseIdle, PhaseRunning, false},
	}
	for _, tc := range tests {
		t.Run(tc.from.String()+"->"+tc.to.String(), func(t *testing.T) {
			if got := canTransition(tc.from, tc.to); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestPhase_String(t *testing.T) {
	if PhaseStopping.String() != "stopping" {
		t.Errorf("unexpected name %q", PhaseStopping.String())
	}
	if Phase(42).String() != "phase(42)" {
		t.Errorf("unexpected name %q", Phase(42).String())
	}
	text, _ := PhaseRunning.MarshalText()
	if string(text) != "running" {
		t.Errorf("unexpected text %q", text)
	}
}

func TestConfig_Defaults(t *testing.T) {
	c := DefaultConfig()
	if c.StopBound() != DefaultGracePeriod+DefaultForcePeriod {
		t.Errorf("unexpected stop bound %v", c.StopBound())
	}
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	bad := Config{GracePeriod: -1, ForcePeriod: 1, ResultBuffer: 1}
	if err := bad.Validate(); err == nil {
		t.Error("expected negative grace period to be rejected")
	}
}
