package pipeline

import "time"

// State is a step of a pipeline run.
type State string

const (
	StateIdle               State = "Idle"
	StateEmbedding          State = "Embedding"
	StateAligning           State = "Aligning"
	StateBuildingRecords    State = "BuildingRecords"
	StateEnsuringCollection State = "EnsuringCollection"
	StateWriting            State = "Writing"
	StateQuerying           State = "Querying"
	StateDone               State = "Done"
	StateFailed             State = "Failed"
)

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// next lists the states each state may move to, besides Failed.
var next = map[State][]State{
	StateIdle:               {StateEmbedding},
	StateEmbedding:          {StateAligning},
	StateAligning:           {StateBuildingRecords},
	StateBuildingRecords:    {StateEnsuringCollection},
	StateEnsuringCollection: {StateWriting},
	StateWriting:            {StateQuerying, StateDone},
	StateQuerying:           {StateDone},
}

// CanTransition reports whether the machine allows from -> to.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}
