package mqtt

import "github.com/sirupsen/logrus"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a bounded FIFO of messages published while disconnected.
// A retained message replaces any earlier retained message on the same
// topic, since the broker would only keep the last one. When full the
// oldest message is dropped.
// Not safe for concurrent use; callers synchronize.
type outbox struct {
	msgs     []bufferedMsg
	capacity int
	overflow bool // true if any message was dropped since last drain
}

func newOutbox(capacity int) *outbox {
	return &outbox{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
	}
}

func (o *outbox) push(msg bufferedMsg) {
	if msg.retained {
		for i, m := range o.msgs {
			if m.retained && m.topic == msg.topic {
				o.msgs = append(o.msgs[:i], o.msgs[i+1:]...)
				break
			}
		}
	}

	if len(o.msgs) == o.capacity {
		if !o.overflow {
			logrus.WithField("capacity", o.capacity).Warn("mqtt: outbox full, dropping oldest")
			o.overflow = true
		}
		o.msgs = append(o.msgs[:0], o.msgs[1:]...)
	}
	o.msgs = append(o.msgs, msg)
}

// drainAll returns the queued messages oldest first and empties the outbox.
func (o *outbox) drainAll() []bufferedMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	out := make([]bufferedMsg, len(o.msgs))
	copy(out, o.msgs)
	o.msgs = o.msgs[:0]
	o.overflow = false
	return out
}

func (o *outbox) len() int {
	return len(o.msgs)
}
