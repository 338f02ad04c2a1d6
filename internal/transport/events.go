package transport

import "time"

// EventType is the lifecycle stage of a transfer.
type EventType string

const (
	// EventInitiated fires before any request is issued.
	EventInitiated EventType = "initiated"
	// EventStarted fires once the store accepted the request and bytes flow.
	EventStarted EventType = "started"
	// EventCompleted fires after the transfer finished successfully.
	EventCompleted EventType = "completed"
	// EventError fires when the transfer failed.
	EventError EventType = "error"
	// EventDebug carries a free-form trace message.
	EventDebug EventType = "debug"
)

// RequestType is the kind of transport operation an event belongs to.
type RequestType string

const (
	RequestGet    RequestType = "get"
	RequestPut    RequestType = "put"
	RequestList   RequestType = "list"
	RequestExists RequestType = "exists"
)

// Event is a transfer lifecycle notification.
type Event struct {
	Type    EventType
	Request RequestType
	// Resource is the caller-visible resource path.
	Resource string
	// Key is the object key the resource maps to.
	Key string
	// LocalPath is set for file based transfers.
	LocalPath string
	// Bytes is the number of bytes moved, set on completion.
	Bytes int64
	// Duration is the time since initiation, set on completion and error.
	Duration time.Duration
	Err      error
	Message  string
}

// Listener observes transfer events. Listeners are called synchronously on
// the goroutine performing the transfer and must not block.
type Listener interface {
	TransferEvent(Event)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(Event)

// TransferEvent implements Listener.
func (f ListenerFunc) TransferEvent(e Event) { f(e) }

// Listeners fans an event out to every listener in order.
type Listeners []Listener

// TransferEvent implements Listener.
func (ls Listeners) TransferEvent(e Event) {
	for _, l := range ls {
		if l != nil {
			l.TransferEvent(e)
		}
	}
}

type transfer struct {
	t     *Transport
	event Event
	start time.Time
}

func (t *Transport) begin(req RequestType, resource, key, localPath string) *transfer {
	x := &transfer{
		t: t,
		event: Event{
			Request:   req,
			Resource:  resource,
			Key:       key,
			LocalPath: localPath,
		},
		start: time.Now(),
	}
	x.emit(EventInitiated, nil)
	return x
}

func (x *transfer) started() {
	x.emit(EventStarted, nil)
}

func (x *transfer) debug(msg string) {
	e := x.event
	e.Message = msg
	x.t.notify(EventDebug, e)
}

// finish emits completed or error and returns err unchanged.
func (x *transfer) finish(bytes int64, err error) error {
	x.event.Bytes = bytes
	x.event.Duration = time.Since(x.start)
	if err != nil {
		x.emit(EventError, err)
		return err
	}
	x.emit(EventCompleted, nil)
	return nil
}

func (x *transfer) emit(typ EventType, err error) {
	e := x.event
	e.Err = err
	x.t.notify(typ, e)
}

func (t *Transport) notify(typ EventType, e Event) {
	if t.listener == nil {
		return
	}
	e.Type = typ
	t.listener.TransferEvent(e)
}
