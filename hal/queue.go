package hal

import (
	"context"
	"time"

	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
)

// defaultQueueSize bounds per-adapter inbound queues when the config does
// not say otherwise.
const defaultQueueSize = 256

// packetQueue is a bounded inbound packet queue. When full, Push drops the
// newest packet with a logged warning instead of blocking the producer,
// which for packet transports is the bus listener goroutine.
type packetQueue struct {
	ch  chan *model.DataPacket
	log logging.Logger
}

func newPacketQueue(size int, log logging.Logger) *packetQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	if log == nil {
		log = logging.Noop()
	}
	return &packetQueue{
		ch:  make(chan *model.DataPacket, size),
		log: log,
	}
}

// Push enqueues pkt, reporting whether it was accepted.
func (q *packetQueue) Push(pkt *model.DataPacket) bool {
	select {
	case q.ch <- pkt:
		return true
	default:
		q.log.Warn(context.Background(), "inbound queue full, dropping packet",
			logging.Int("capacity", cap(q.ch)),
			logging.Int("payload_bytes", len(pkt.Payload)),
		)
		return false
	}
}

// Pop dequeues the oldest packet, waiting up to timeout. A zero timeout
// waits only on ctx.
func (q *packetQueue) Pop(ctx context.Context, timeout time.Duration) (*model.DataPacket, error) {
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case pkt := <-q.ch:
			return pkt, nil
		case <-timer.C:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	select {
	case pkt := <-q.ch:
		return pkt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryPop dequeues without waiting.
func (q *packetQueue) TryPop() (*model.DataPacket, bool) {
	select {
	case pkt := <-q.ch:
		return pkt, true
	default:
		return nil, false
	}
}

// Len reports the number of queued packets.
func (q *packetQueue) Len() int { return len(q.ch) }

// Drain empties the queue, returning how many packets were discarded.
func (q *packetQueue) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}
