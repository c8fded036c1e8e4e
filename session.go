package nbsftp

import (
	"io"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	sshfx "github.com/pkg/nbsftp/encoding/ssh/filexfer"
)

const sftpProtocolVersion = 3 // only version 3 is supported

// PumpResult summarizes the work done by a single call to Pump,
// so that the caller can decide whether, and for what, to poll the Channel again.
type PumpResult struct {
	BytesRead    int
	BytesWritten int

	Frames    int // complete packets decoded
	Resolved  int // responses matched to an outstanding request
	Unmatched int // responses whose request id was not outstanding, and were dropped
	Discarded int // responses matched to requests of a handle that had since moved on

	WantWrite bool // outbound bytes are still queued
	Closed    bool // the peer closed the Channel
}

// Session is a non-blocking SFTP session over a Channel.
// It is the sole owner of the Channel: nothing else may read from or write to it.
//
// A Session is not safe for concurrent use.
type Session struct {
	noCopy noCopy

	ch  Channel
	log *slog.Logger

	maxPacket   uint32
	maxDataLen  int
	maxInflight int

	rbuf []byte
	dec  *sshfx.Decoder

	out  []byte // marshaled packets waiting for the Channel
	held []byte // requests submitted before SSH_FXP_VERSION arrived
	hdr  []byte // scratch space for packet headers

	reqs correlator

	ready bool
	exts  map[string]string

	files map[*File]struct{}

	err    error
	closed bool

	res PumpResult
}

// NewSession starts an SFTP session over ch.
// It queues SSH_FXP_INIT, which is written by the first Pump.
// Requests may be submitted right away, they are sent once the server has answered with SSH_FXP_VERSION.
func NewSession(ch Channel, opts ...SessionOption) (*Session, error) {
	s := &Session{
		ch:  ch,
		log: slog.New(slog.DiscardHandler),

		maxPacket:   sshfx.DefaultMaxPacketLength,
		maxDataLen:  sshfx.DefaultMaxDataLength,
		maxInflight: defaultMaxInflight,

		hdr: make([]byte, 0, 1024),

		reqs: correlator{
			now: time.Now,
		},

		files: make(map[*File]struct{}),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.rbuf == nil {
		s.rbuf = make([]byte, defaultReadBufferSize)
	}

	s.dec = sshfx.NewDecoder(s.maxPacket)

	hello, err := (&sshfx.InitPacket{Version: sftpProtocolVersion}).MarshalBinary()
	if err != nil {
		return nil, err
	}

	s.out = append(s.out, hello...)

	return s, nil
}

// Ready returns nil once the protocol version has been negotiated,
// ErrWouldBlock until then, or the error that ended the session.
func (s *Session) Ready() error {
	if s.err != nil {
		return s.err
	}

	if !s.ready {
		return ErrWouldBlock
	}

	return nil
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	return s.err
}

// Extensions returns the extensions announced by the server in SSH_FXP_VERSION.
func (s *Session) Extensions() map[string]string {
	return s.exts
}

// Outstanding lists the requests still waiting for a response, in request id order.
// The engine never times requests out, callers may use this to do so.
func (s *Session) Outstanding() []Outstanding {
	return s.reqs.outstanding()
}

// Pump performs one round of I/O:
// a single TryRead from the Channel, decoding and routing every complete packet,
// then a single TryWrite of queued outbound bytes.
//
// A non-nil error is fatal: the session has failed, and every request and File has been ended with it.
func (s *Session) Pump() (PumpResult, error) {
	s.res = PumpResult{}

	if s.err != nil {
		return s.res, s.err
	}

	n, err := s.ch.TryRead(s.rbuf)
	if n > 0 {
		s.res.BytesRead = n
		s.dec.Feed(s.rbuf[:n])

		if err := s.decodeAll(); err != nil {
			s.fail(err)
			return s.res, s.err
		}
	}

	switch {
	case err == nil, errors.Is(err, ErrWouldBlock):
	case errors.Is(err, io.EOF):
		s.res.Closed = true
		s.fail(&TransportError{Err: io.EOF})
		return s.res, s.err
	default:
		s.fail(&TransportError{Err: err})
		return s.res, s.err
	}

	if err := s.flush(); err != nil {
		s.fail(err)
		return s.res, s.err
	}

	s.res.WantWrite = len(s.out) > 0

	return s.res, nil
}

func (s *Session) flush() error {
	if len(s.out) == 0 {
		return nil
	}

	n, err := s.ch.TryWrite(s.out)
	if n > 0 {
		s.res.BytesWritten = n
		s.out = s.out[:copy(s.out, s.out[n:])]
	}

	if err != nil && !errors.Is(err, ErrWouldBlock) {
		return &TransportError{Err: err}
	}

	return nil
}

func (s *Session) decodeAll() error {
	for {
		raw, err := s.dec.Next()
		if errors.Is(err, sshfx.ErrIncompletePacket) {
			return nil
		}
		if err != nil {
			return &ProtocolError{Err: err}
		}

		s.res.Frames++

		if err := s.route(raw); err != nil {
			return err
		}
	}
}

func (s *Session) route(raw *sshfx.RawPacket) error {
	if raw.PacketType == sshfx.PacketTypeVersion {
		return s.negotiate(raw)
	}

	if !s.ready {
		return protocolErrorf("%s received before SSH_FXP_VERSION", raw.PacketType)
	}

	if !raw.PacketType.IsResponse() {
		return protocolErrorf("unexpected packet type: %s", raw.PacketType)
	}

	matched, err := s.reqs.resolve(raw)
	if !matched {
		s.res.Unmatched++
		s.log.Warn("dropping unmatched response", "id", raw.RequestID, "type", raw.PacketType)
		return nil
	}

	s.res.Resolved++

	return err
}

func (s *Session) negotiate(raw *sshfx.RawPacket) error {
	if s.ready {
		return protocolErrorf("duplicate SSH_FXP_VERSION")
	}

	var version sshfx.VersionPacket
	if err := version.UnmarshalBinary(raw.Data.Bytes()); err != nil {
		return &ProtocolError{Err: errors.Wrap(err, "decode SSH_FXP_VERSION")}
	}

	if version.Version != sftpProtocolVersion {
		return protocolErrorf("unsupported protocol version: %d", version.Version)
	}

	s.exts = make(map[string]string, len(version.Extensions))
	for _, ext := range version.Extensions {
		s.exts[ext.Name] = ext.Data
	}

	s.ready = true
	s.out = append(s.out, s.held...)
	s.held = nil

	s.log.Debug("sftp session ready", "version", version.Version, "extensions", len(s.exts))

	return nil
}

// dispatch marshals req under a fresh request id, and queues it for the Channel.
// The completion is called exactly once, when the response arrives or the session fails.
func (s *Session) dispatch(req sshfx.PacketMarshaller, f *File, complete completion) error {
	if s.err != nil {
		return s.err
	}

	pr := s.reqs.submit(req.Type(), f, complete)

	header, payload, err := req.MarshalPacket(pr.id, s.hdr)
	if err != nil {
		s.reqs.cancel(pr.id)
		return errors.Wrapf(err, "marshal %s", req.Type())
	}

	if s.ready {
		s.out = append(append(s.out, header...), payload...)
	} else {
		s.held = append(append(s.held, header...), payload...)
	}

	// payload aliases caller memory, it has been copied out above, and is not kept.
	s.hdr = header[:0]

	return nil
}

// fail ends the session with err.
// Every outstanding request is completed with err, and every live File moves to StateErrored.
func (s *Session) fail(err error) {
	if s.err != nil {
		return
	}

	s.err = err

	if !errors.Is(err, ErrSessionClosed) {
		s.log.Error("sftp session failed", "err", err, "outstanding", s.reqs.len())
	}

	s.reqs.failAll(err)

	for f := range s.files {
		f.fail(err)
	}

	clear(s.files)
}

// Shutdown ends the session, and closes the Channel.
// Outstanding requests fail with ErrSessionClosed, and live Files move to StateErrored.
// It is safe to call Shutdown more than once.
func (s *Session) Shutdown() error {
	if s.closed {
		return nil
	}

	s.closed = true
	s.fail(ErrSessionClosed)

	s.out, s.held = nil, nil

	if err := s.ch.Close(); err != nil {
		return &TransportError{Err: err}
	}

	return nil
}

func (s *Session) track(f *File) {
	s.files[f] = struct{}{}
}

func (s *Session) forget(f *File) {
	delete(s.files, f)
}
