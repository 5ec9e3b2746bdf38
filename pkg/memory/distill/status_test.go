package distill

import (
	"encoding/json"
	"testing"
)

func TestStatusStringParseRoundTrip(t *testing.T) {
	for _, s := range []Status{StatusUnprocessed, StatusInProgress, StatusProcessed, StatusSkipped} {
		got, err := ParseStatus(s.String())
		if err != nil {
			t.Errorf("ParseStatus(%q) failed: %v", s.String(), err)
		}
		if got != s {
			t.Errorf("round trip mismatch: %v -> %q -> %v", s, s.String(), got)
		}
	}
	if _, err := ParseStatus("finished"); err == nil {
		t.Error("expected unknown status rejection")
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusUnprocessed, StatusInProgress, true},
		{StatusUnprocessed, StatusSkipped, true},
		{StatusUnprocessed, StatusProcessed, false},
		{StatusInProgress, StatusProcessed, true},
		{StatusInProgress, StatusSkipped, true},
		{StatusInProgress, StatusUnprocessed, true},
		{StatusProcessed, StatusInProgress, false},
		{StatusProcessed, StatusUnprocessed, false},
		{StatusSkipped, StatusInProgress, false},
		{StatusSkipped, StatusProcessed, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("CanTransition(%v -> %v) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}

	if StatusInProgress.Terminal() || !StatusProcessed.Terminal() || !StatusSkipped.Terminal() {
		t.Error("terminal states are exactly processed and skipped")
	}
}

func TestStatusJSONUsesNames(t *testing.T) {
	b, err := json.Marshal(StatusInProgress)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(b) != `"in-progress"` {
		t.Errorf("expected wire name, got %s", b)
	}

	var s Status
	if err := json.Unmarshal([]byte(`"skipped"`), &s); err != nil || s != StatusSkipped {
		t.Errorf("unmarshal mismatch: %v, %v", s, err)
	}
	if err := json.Unmarshal([]byte(`"bogus"`), &s); err == nil {
		t.Error("expected unknown wire status rejection")
	}
}
