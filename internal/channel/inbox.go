package channel

import "github.com/soyeahso/chanhub/internal/domain"

// Unbounded is the inbox capacity that never blocks producers.
const Unbounded = -1

// NewInbox returns the send and receive ends of the shared inbound queue.
// A positive capacity gives a buffered channel whose producers block when
// it is full; zero gives an unbuffered one. Unbounded queues in memory and
// closes the receive end once the send end is closed and drained.
func NewInbox(capacity int) (chan<- domain.ChannelMessage, <-chan domain.ChannelMessage) {
	if capacity >= 0 {
		ch := make(chan domain.ChannelMessage, capacity)
		return ch, ch
	}
	in := make(chan domain.ChannelMessage)
	out := make(chan domain.ChannelMessage)
	go pump(in, out)
	return in, out
}

func pump(in <-chan domain.ChannelMessage, out chan<- domain.ChannelMessage) {
	defer close(out)
	var queue []domain.ChannelMessage
	for {
		if len(queue) == 0 {
			msg, ok := <-in
			if !ok {
				return
			}
			queue = append(queue, msg)
			continue
		}
		select {
		case msg, ok := <-in:
			if !ok {
				for _, m := range queue {
					out <- m
				}
				return
			}
			queue = append(queue, msg)
		case out <- queue[0]:
			queue[0] = domain.ChannelMessage{}
			queue = queue[1:]
		}
	}
}
