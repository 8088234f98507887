package h2

import "io"

// Tunnel drives the bidirectional byte-forwarding mode a CONNECT-method
// stream enters (spec §7 "User-visible behavior": "a CONNECT-method
// request transitions the stream to a tunnel mode where the body path
// forwards bytes in both directions until either end closes"). upstream is
// the handler-side connection to the requested target, already
// established by the surrounding proxy shell; Tunnel only owns the
// byte-copying loop between it and the stream's body pipe.
type Tunnel struct {
	stream   *Stream
	upstream io.ReadWriteCloser
}

// NewTunnel wraps stream, which must carry a CONNECT request whose headers
// have already been validated by the caller (h2.Header.Method == "CONNECT").
func NewTunnel(stream *Stream, upstream io.ReadWriteCloser) *Tunnel {
	return &Tunnel{stream: stream, upstream: upstream}
}

// Run copies bytes in both directions and returns once both copies have
// finished: when the client's body ends, upstream is half-closed with
// CloseWrite (if it has one); when upstream reaches EOF, END_STREAM is sent
// to the client. upstream is closed after both copies return, and the
// first non-nil error is returned. It blocks the calling goroutine; callers
// run it off the connection's affinity goroutine (per spec §5, CONNECT
// tunnels are the one case where the stream's I/O is not itself bounded by
// "runs to completion per event" — the upstream socket's read/write can
// genuinely block, so it gets its own goroutine pair rather than being
// driven from the event loop).
func (t *Tunnel) Run() error {
	errc := make(chan error, 2)
	go func() {
		_, err := io.Copy(t.upstream, t.stream.body)
		if c, ok := t.upstream.(interface{ CloseWrite() error }); ok {
			_ = c.CloseWrite()
		}
		errc <- err
	}()
	go func() {
		n, err := t.stream.WriteFromReader(t.upstream)
		_ = n
		errc <- err
	}()
	err1 := <-errc
	err2 := <-errc
	t.upstream.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// WriteFromReader streams r's bytes out as DATA frames until r returns
// EOF or an error, honoring flow control via WriteData's slicing. It is
// the tunnel's upstream-to-client direction.
func (st *Stream) WriteFromReader(r io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			off := 0
			for off < n {
				wrote, werr := st.WriteData(buf[off:n], false)
				if werr != nil {
					return total, werr
				}
				if wrote == 0 {
					// peer window exhausted; in the event-loop model this
					// would suspend until a WINDOW_UPDATE arrives. Tunnel
					// goroutines run off-loop, so block on the stream's
					// window instead of busy-spinning.
					st.waitForPeerWindow()
					if st.State() == StateClosed {
						return total, errPipeClosed
					}
					continue
				}
				off += wrote
				total += int64(wrote)
			}
		}
		if rerr == io.EOF {
			_, werr := st.WriteData(nil, true)
			return total, werr
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

// waitForPeerWindow blocks until the stream's peer window is non-zero or
// the stream closes. Tunnel-only: the regular event-loop path never calls
// this, since it never blocks (spec §5 "runs to completion per event").
func (st *Stream) waitForPeerWindow() {
	st.windowWaiters.L.Lock()
	for st.peerWindow.Available() <= 0 && st.state != StateClosed {
		st.windowWaiters.Wait()
	}
	st.windowWaiters.L.Unlock()
}
