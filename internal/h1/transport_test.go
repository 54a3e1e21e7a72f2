package h1

import (
	"net"

	"github.com/panjf2000/gnet/v2"
)

// fakeTransport queues writes until the test completes them.
type fakeTransport struct {
	writes    [][]byte
	pending   []gnet.AsyncCallback
	closed    int
	submitErr error
}

func (f *fakeTransport) AsyncWrite(buf []byte, callback gnet.AsyncCallback) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.writes = append(f.writes, append([]byte(nil), buf...))
	f.pending = append(f.pending, callback)
	return nil
}

// complete runs every queued write callback with err.
func (f *fakeTransport) complete(err error) {
	pending := f.pending
	f.pending = nil
	for _, cb := range pending {
		_ = cb(nil, err)
	}
}

func (f *fakeTransport) Close() error {
	f.closed++
	return nil
}

func (f *fakeTransport) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv6loopback, Port: 50000}
}

func (f *fakeTransport) output() string {
	var out []byte
	for _, w := range f.writes {
		out = append(out, w...)
	}
	return string(out)
}
