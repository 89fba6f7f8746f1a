package mavlink

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// Sender frames messages for one output link and owns its sequence counter.
type Sender struct {
	SysID  uint8
	CompID uint8

	mu  sync.Mutex
	seq uint8
	buf bytes.Buffer
}

// NewSender returns a sender identifying itself as sysID/compID.
func NewSender(sysID, compID uint8) *Sender {
	return &Sender{SysID: sysID, CompID: compID}
}

// Send frames msgs back to back and writes them to w in a single Write so a
// datagram link receives one packet per tick.
func (s *Sender) Send(w io.Writer, msgs ...Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Reset()
	for _, m := range msgs {
		frame, err := Marshal(m, s.seq, s.SysID, s.CompID)
		if err != nil {
			return err
		}
		s.seq++
		s.buf.Write(frame)
	}
	if s.buf.Len() == 0 {
		return nil
	}

	n, err := w.Write(s.buf.Bytes())
	if err != nil {
		return err
	}
	if n != s.buf.Len() {
		return fmt.Errorf("short write: %d of %d bytes", n, s.buf.Len())
	}
	return nil
}
