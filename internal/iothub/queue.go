package iothub

import "log"

// outbound is a message waiting to be published by DoWork.
type outbound struct {
	topic   string
	payload []byte
	qos     byte

	onDelivery DeliveryCallback      // telemetry
	onReport   ReportedStateCallback // reported state
	rid        string                // request id for reported state
}

// fail reports a message that will never be sent.
func (m outbound) fail(result ConfirmationResult) {
	switch {
	case m.onDelivery != nil:
		m.onDelivery(result)
	case m.onReport != nil:
		m.onReport(0)
	}
}

// ringBuffer is a fixed-capacity FIFO that stores messages until DoWork can
// publish them. When full the oldest message is dropped and its callback is
// told so.
// Callers synchronize access.
type ringBuffer struct {
	buf      []outbound
	capacity int
	head     int // next write position
	count    int
	overflow bool // true if any message was dropped since last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		buf:      make([]outbound, capacity),
		capacity: capacity,
	}
}

// push adds msg and returns the message it displaced, if any.
func (r *ringBuffer) push(msg outbound) (dropped outbound, ok bool) {
	if r.count == r.capacity {
		if !r.overflow {
			log.Printf("iothub: outbound queue full (%d messages), dropping oldest", r.capacity)
			r.overflow = true
		}
		// Overwrite oldest: head is already pointing at it
		dropped = r.buf[r.head]
		r.buf[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		return dropped, true
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % r.capacity
	r.count++
	return outbound{}, false
}

func (r *ringBuffer) drainAll() []outbound {
	if r.count == 0 {
		return nil
	}

	result := make([]outbound, r.count)
	// Oldest item is at (head - count) mod capacity
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(start+i)%r.capacity]
	}

	r.count = 0
	r.head = 0
	r.overflow = false
	return result
}

func (r *ringBuffer) len() int {
	return r.count
}
