package spanz

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// IDLength is the number of characters in trace and span IDs.
// Collisions are not detected.
const IDLength = 8

// NewShortID returns the first IDLength characters of a random UUID.
func NewShortID() string {
	id := uuid.NewString()
	return strings.ReplaceAll(id, "-", "")[:IDLength]
}

// IDPool keeps a buffer of pre-generated IDs so span creation does not wait
// on the random source.
type IDPool struct {
	factory func() string
	ids     chan string
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewIDPool creates a pool holding up to capacity IDs made by factory.
func NewIDPool(capacity int, factory func() string) *IDPool {
	p := &IDPool{
		factory: factory,
		ids:     make(chan string, max(capacity, 1)),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.refill()
	return p
}

// Get takes a buffered ID, or makes one when the buffer is empty.
func (p *IDPool) Get() string {
	select {
	case id := <-p.ids:
		return id
	default:
		return p.factory()
	}
}

func (p *IDPool) refill() {
	defer close(p.done)
	for {
		id := p.factory()
		select {
		case p.ids <- id:
		case <-p.stop:
			return
		}
	}
}

// Close stops refilling and returns once the refill goroutine has exited.
// Get keeps working afterwards. Safe to call more than once.
func (p *IDPool) Close() {
	p.once.Do(func() { close(p.stop) })
	<-p.done
}
