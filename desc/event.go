package desc

import "github.com/ardnew/funcfs/pkg"

// EventType tags a lifecycle or control notification delivered to the
// controlling process.
type EventType uint8

// Event types, in wire order.
const (
	EventBind EventType = iota
	EventUnbind
	EventEnable
	EventDisable
	EventSetup
	EventSuspend
	EventResume
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventBind:
		return "bind"
	case EventUnbind:
		return "unbind"
	case EventEnable:
		return "enable"
	case EventDisable:
		return "disable"
	case EventSetup:
		return "setup"
	case EventSuspend:
		return "suspend"
	case EventResume:
		return "resume"
	default:
		return "unknown"
	}
}

// EventRecordSize is the fixed size of one serialized event record:
// a 1-byte type tag, 3 bytes of padding, and the 8-byte raw setup
// packet (zero except for setup events).
const EventRecordSize = 12

// Event is one queued notification. Setup carries the raw control
// request for EventSetup records and is zero otherwise.
type Event struct {
	Type  EventType
	Setup SetupPacket
}

// MarshalTo serializes the event record to buf.
// Returns the number of bytes written (always EventRecordSize if buf
// is large enough).
func (e *Event) MarshalTo(buf []byte) int {
	if len(buf) < EventRecordSize {
		return 0
	}
	buf[0] = byte(e.Type)
	buf[1], buf[2], buf[3] = 0, 0, 0
	if e.Type == EventSetup {
		e.Setup.MarshalTo(buf[4:12])
	} else {
		for i := 4; i < EventRecordSize; i++ {
			buf[i] = 0
		}
	}
	return EventRecordSize
}

// ParseEvent parses a serialized event record from data into out.
func ParseEvent(data []byte, out *Event) error {
	if len(data) < EventRecordSize {
		return pkg.ErrBufferTooSmall
	}
	out.Type = EventType(data[0])
	if out.Type == EventSetup {
		return ParseSetupPacket(data[4:12], &out.Setup)
	}
	out.Setup = SetupPacket{}
	return nil
}
