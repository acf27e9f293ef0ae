package pipeline

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateEmbedding, true},
		{StateEmbedding, StateAligning, true},
		{StateAligning, StateBuildingRecords, true},
		{StateBuildingRecords, StateEnsuringCollection, true},
		{StateEnsuringCollection, StateWriting, true},
		{StateWriting, StateQuerying, true},
		{StateWriting, StateDone, true},
		{StateQuerying, StateDone, true},
		{StateIdle, StateFailed, true},
		{StateQuerying, StateFailed, true},
		{StateIdle, StateWriting, false},
		{StateEmbedding, StateWriting, false},
		{StateQuerying, StateWriting, false},
		{StateDone, StateFailed, false},
		{StateFailed, StateIdle, false},
		{StateDone, StateEmbedding, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateDone, StateFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if StateWriting.Terminal() {
		t.Error("Writing should not be terminal")
	}
}
