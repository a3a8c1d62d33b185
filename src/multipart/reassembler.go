package multipart

import (
	"sync"
	"time"

	"github.com/mosaicnetworks/acol/src/common"
	"github.com/mosaicnetworks/acol/src/peers"
)

type buffer struct {
	slots   [][]byte
	filled  int
	created time.Time
}

func newBuffer(total int, now time.Time) *buffer {
	return &buffer{
		slots:   make([][]byte, total),
		created: now,
	}
}

func (b *buffer) complete() bool {
	return b.filled == len(b.slots)
}

func (b *buffer) rebuild() []byte {
	size := 0
	for _, s := range b.slots {
		size += len(s)
	}
	res := make([]byte, 0, size)
	for _, s := range b.slots {
		res = append(res, s...)
	}
	return res
}

// Reassembler collects fragments per sender. It is safe for concurrent use.
type Reassembler struct {
	sync.Mutex
	buffers map[peers.JID]*buffer
	now     func() time.Time
}

// NewReassembler creates an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{
		buffers: make(map[peers.JID]*buffer),
		now:     time.Now,
	}
}

// Add stores a fragment from sender and reports whether the sender's payload
// is complete. A fragment announcing a different total than the open buffer
// starts a new message: the previous buffer is discarded.
func (r *Reassembler) Add(sender peers.JID, body []byte) (common.Trilean, error) {
	f, err := Parse(body)
	if err != nil {
		return common.Undefined, err
	}

	r.Lock()
	defer r.Unlock()

	return common.FromBool(r.store(sender, f).complete()), nil
}

// store must be called with the lock held.
func (r *Reassembler) store(sender peers.JID, f Fragment) *buffer {
	buf, ok := r.buffers[sender]
	if !ok || len(buf.slots) != f.Total {
		buf = newBuffer(f.Total, r.now())
		r.buffers[sender] = buf
	}

	slot := f.Index - 1
	if buf.slots[slot] == nil {
		buf.filled++
	}

	// Copy so the buffer never aliases a transport's memory. A zero-length
	// slice must still mark the slot as filled.
	cp := make([]byte, len(f.Slice))
	copy(cp, f.Slice)
	buf.slots[slot] = cp

	return buf
}

// IsComplete returns Undefined if no buffer is open for sender, True if every
// fragment has arrived, and False otherwise.
func (r *Reassembler) IsComplete(sender peers.JID) common.Trilean {
	r.Lock()
	defer r.Unlock()

	buf, ok := r.buffers[sender]
	if !ok {
		return common.Undefined
	}
	return common.FromBool(buf.complete())
}

// Rebuild returns the payload of a complete buffer and destroys the buffer.
// It returns nil and leaves the buffer untouched if the payload is not
// complete.
func (r *Reassembler) Rebuild(sender peers.JID) []byte {
	r.Lock()
	defer r.Unlock()

	buf, ok := r.buffers[sender]
	if !ok || !buf.complete() {
		return nil
	}
	delete(r.buffers, sender)

	return buf.rebuild()
}

// Decode stores a fragment and returns the reconstructed payload once every
// fragment from sender has arrived. It returns nil, nil while fragments are
// still missing. A malformed fragment is dropped and does not affect the
// open buffer.
func (r *Reassembler) Decode(sender peers.JID, body []byte) ([]byte, error) {
	f, err := Parse(body)
	if err != nil {
		return nil, err
	}

	r.Lock()
	defer r.Unlock()

	buf := r.store(sender, f)
	if !buf.complete() {
		return nil, nil
	}
	delete(r.buffers, sender)

	return buf.rebuild(), nil
}

// Pending returns the number of open buffers.
func (r *Reassembler) Pending() int {
	r.Lock()
	defer r.Unlock()
	return len(r.buffers)
}

// Purge destroys the buffers created more than maxAge ago and returns the
// senders they belonged to, sorted.
func (r *Reassembler) Purge(maxAge time.Duration) []peers.JID {
	r.Lock()
	defer r.Unlock()

	deadline := r.now().Add(-maxAge)

	abandoned := peers.NewSet()
	for sender, buf := range r.buffers {
		if buf.created.Before(deadline) {
			abandoned.Add(sender)
			delete(r.buffers, sender)
		}
	}

	return abandoned.Slice()
}
