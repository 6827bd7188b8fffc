package nearby

import "github.com/ksharma-xyz/krail-nearby/internal/storage"

// Callbacks is how a Manager reports progress. Any field may be nil.
//
// For a query that is not superseded, OnLoading(true) fires first, then
// OnLoading(false), then exactly one of OnLoaded or OnError. OnLoading(true)
// runs on the caller's goroutine; the rest run on the manager's worker
// goroutine, and a later LoadNearbyStops or CancelOngoingQuery waits for them
// to return. Callbacks must not call into the Manager themselves.
type Callbacks struct {
	OnLoading func(loading bool)
	OnLoaded  func(stops []storage.StopRecord)
	OnError   func(err error)
}

func (c Callbacks) loading(v bool) {
	if c.OnLoading != nil {
		c.OnLoading(v)
	}
}

func (c Callbacks) loaded(stops []storage.StopRecord) {
	if c.OnLoaded != nil {
		c.OnLoaded(stops)
	}
}

func (c Callbacks) failed(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

// EventKind tags an Event.
type EventKind int

const (
	EventLoading EventKind = iota
	EventLoaded
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventLoading:
		return "loading"
	case EventLoaded:
		return "loaded"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single callback delivered as a value.
type Event struct {
	Kind    EventKind
	Loading bool
	Stops   []storage.StopRecord
	Err     error
}

// ChannelCallbacks delivers every callback as an Event on ch. Sends block,
// and the loading(true) event is sent from the goroutine calling
// LoadNearbyStops, so ch must be buffered or drained by another goroutine.
func ChannelCallbacks(ch chan<- Event) Callbacks {
	return Callbacks{
		OnLoading: func(loading bool) { ch <- Event{Kind: EventLoading, Loading: loading} },
		OnLoaded:  func(stops []storage.StopRecord) { ch <- Event{Kind: EventLoaded, Stops: stops} },
		OnError:   func(err error) { ch <- Event{Kind: EventError, Err: err} },
	}
}
