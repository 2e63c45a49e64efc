package domain

// EventType enumerates titration change notifications.
type EventType string

const (
	EventStepIngested     EventType = "step.ingested"
	EventCutoffChanged    EventType = "cutoff.changed"
	EventSelectionChanged EventType = "selection.changed"
	EventProtocolChanged  EventType = "protocol.changed"
	EventRestored         EventType = "titration.restored"
)

// Event describes a completed mutation. Step is the step count after the
// change.
type Event struct {
	Type   EventType
	Step   int
	Source string
}

// Observer is called synchronously after every mutation.
type Observer func(Event)

type observers struct {
	next int
	fns  map[int]Observer
}

func (o *observers) add(fn Observer) func() {
	if o.fns == nil {
		o.fns = make(map[int]Observer)
	}
	id := o.next
	o.next++
	o.fns[id] = fn
	return func() { delete(o.fns, id) }
}

func (o *observers) notify(e Event) {
	for id := 0; id < o.next; id++ {
		if fn, ok := o.fns[id]; ok {
			fn(e)
		}
	}
}
