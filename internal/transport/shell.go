package transport

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// streamShell adapts blocking readers into a Shell with non-blocking drains.
// One goroutine per reader copies output into a shared buffer.
type streamShell struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	readers int
	eof     bool
	err     error

	w         io.Writer
	closeOnce sync.Once
	closer    func() error
	closeErr  error
}

func newStreamShell(w io.Writer, closer func() error, readers ...io.Reader) *streamShell {
	s := &streamShell{
		w:       w,
		closer:  closer,
		readers: len(readers),
	}
	if len(readers) == 0 {
		s.eof = true
	}
	for _, r := range readers {
		go s.pump(r)
	}
	return s
}

func (s *streamShell) pump(r io.Reader) {
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			s.mu.Lock()
			s.buf.Write(chunk[:n])
			s.mu.Unlock()
		}
		if err != nil {
			s.mu.Lock()
			s.readers--
			if s.readers <= 0 {
				s.eof = true
			}
			if !errors.Is(err, io.EOF) && s.err == nil {
				s.err = err
			}
			s.mu.Unlock()
			return
		}
	}
}

func (s *streamShell) RecvReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len() > 0
}

func (s *streamShell) Recv(max int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf.Len() == 0 {
		if s.eof {
			if s.err != nil {
				return nil, s.err
			}
			return nil, io.EOF
		}
		return nil, nil
	}
	if max <= 0 || max > s.buf.Len() {
		max = s.buf.Len()
	}
	out := make([]byte, max)
	n, _ := s.buf.Read(out)
	return out[:n], nil
}

func (s *streamShell) Send(p []byte) error {
	s.mu.Lock()
	eof := s.eof
	s.mu.Unlock()
	if eof {
		return ErrShellClosed
	}
	_, err := s.w.Write(p)
	return err
}

func (s *streamShell) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eof && s.buf.Len() == 0
}

func (s *streamShell) Close() error {
	s.closeOnce.Do(func() {
		if s.closer != nil {
			s.closeErr = s.closer()
		}
	})
	return s.closeErr
}
