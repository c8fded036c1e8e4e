// Package nbsftp implements a non-blocking client for the SSH File Transfer Protocol
// as described in https://filezilla-project.org/specs/draft-ietf-secsh-filexfer-02.txt
//
// The engine never blocks. It runs over a Channel that reports ErrWouldBlock
// instead of waiting, and every operation either completes immediately,
// or queues the request and returns ErrWouldBlock.
// The caller drives I/O by calling Session.Pump whenever the Channel may be ready,
// and then retries the operation.
//
//	s, err := nbsftp.NewSession(ch)
//	...
//	f, err := s.Open("/tmp/TEST", os.O_RDONLY, 0)
//	...
//	for {
//		n, err := f.Read(buf)
//		if errors.Is(err, nbsftp.ErrWouldBlock) {
//			if _, err := s.Pump(); err != nil {
//				return err
//			}
//			continue
//		}
//		...
//	}
//
// A single Session and its Files are not safe for concurrent use.
// Client wraps a Session with a blocking, goroutine-safe API.
package nbsftp

// noCopy may be added to structs which must not be copied after first use.
// It is caught by the -copylocks checker of go vet.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
