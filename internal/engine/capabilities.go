package engine

import "github.com/alfredjeanlab/flowd/internal/model"

// capabilities are the behaviours an adapter is composed from. Every
// capability that polls back-pressure also serves the back-pressure route.
type capabilities struct {
	inbox        bool
	backPressure bool
	externalPoll bool
	broker       bool
	push         bool
	queue        bool
	stimulation  bool
	forceSync    bool
}

var variants = map[model.AdapterType]capabilities{
	model.AdapterPush:      {push: true, stimulation: true},
	model.AdapterPoll:      {externalPoll: true, push: true, stimulation: true},
	model.AdapterQueue:     {backPressure: true, queue: true},
	model.AdapterSubscribe: {broker: true, push: true, stimulation: true},
	model.AdapterMerge:     {inbox: true, backPressure: true},
	model.AdapterEgress:    {inbox: true, backPressure: true, push: true, forceSync: true},
	model.AdapterHidden:    {inbox: true, backPressure: true, push: true, stimulation: true},
}

func capabilitiesFor(t model.AdapterType) (capabilities, bool) {
	c, ok := variants[t]
	return c, ok
}
