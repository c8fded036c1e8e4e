package nbsftp

import (
	"maps"
	"slices"
	"time"

	sshfx "github.com/pkg/nbsftp/encoding/ssh/filexfer"
)

// completion receives the response to a request, or the error that ended it.
// Exactly one of raw and err is non-nil.
// The raw packet aliases the session read buffer, and is only valid during the call.
//
// A returned error is fatal to the whole Session.
type completion func(raw *sshfx.RawPacket, err error) error

type pendingRequest struct {
	id        uint32
	kind      sshfx.PacketType
	submitted time.Time
	file      *File

	complete completion
}

// Outstanding describes a request still waiting for its response.
type Outstanding struct {
	ID        uint32
	Kind      sshfx.PacketType
	Submitted time.Time

	// Path names the File the request was issued for, if any.
	Path string
}

// correlator assigns request ids and matches responses to the requests that caused them.
// Responses may arrive in any order.
type correlator struct {
	next    uint32
	pending map[uint32]*pendingRequest
	now     func() time.Time
}

// allocate returns the next free request id.
// Ids increase monotonically, wrap on overflow, and skip any id still outstanding.
func (c *correlator) allocate() uint32 {
	for {
		c.next++
		if _, busy := c.pending[c.next]; !busy {
			return c.next
		}
	}
}

func (c *correlator) submit(kind sshfx.PacketType, f *File, complete completion) *pendingRequest {
	if c.pending == nil {
		c.pending = make(map[uint32]*pendingRequest)
	}

	req := &pendingRequest{
		id:        c.allocate(),
		kind:      kind,
		submitted: c.now(),
		file:      f,
		complete:  complete,
	}

	c.pending[req.id] = req

	return req
}

// cancel forgets a request that was never sent.
func (c *correlator) cancel(id uint32) {
	delete(c.pending, id)
}

// resolve routes raw to the request with the same id.
// It reports false if no such request is outstanding.
func (c *correlator) resolve(raw *sshfx.RawPacket) (bool, error) {
	req, ok := c.pending[raw.RequestID]
	if !ok {
		return false, nil
	}

	delete(c.pending, raw.RequestID)

	return true, req.complete(raw, nil)
}

// failAll ends every outstanding request with err, in id order.
func (c *correlator) failAll(err error) {
	ids := slices.Sorted(maps.Keys(c.pending))

	for _, id := range ids {
		req := c.pending[id]
		delete(c.pending, id)

		// The session is already failing, so further errors have nowhere to go.
		_ = req.complete(nil, err)
	}
}

func (c *correlator) len() int {
	return len(c.pending)
}

func (c *correlator) outstanding() []Outstanding {
	ids := slices.Sorted(maps.Keys(c.pending))

	out := make([]Outstanding, 0, len(ids))
	for _, id := range ids {
		req := c.pending[id]

		o := Outstanding{
			ID:        req.id,
			Kind:      req.kind,
			Submitted: req.submitted,
		}

		if req.file != nil {
			o.Path = req.file.name
		}

		out = append(out, o)
	}

	return out
}
