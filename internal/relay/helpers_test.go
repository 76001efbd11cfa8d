//go:build unix

package relay_test

import (
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-relay/internal/transport"
)

// newPeer returns the relay side of a connected socket pair together with a
// net.Conn playing the remote client.
func newPeer(t *testing.T) (*transport.Conn, net.Conn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	server, err := transport.Wrap(fds[0], nil)
	require.NoError(t, err)

	f := os.NewFile(uintptr(fds[1]), "client")
	client, err := net.FileConn(f)
	_ = f.Close()
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return server, client
}

// readExactly reads len(want) bytes within timeout, tolerating arbitrary
// splitting by the relay.
func readExactly(t *testing.T, c net.Conn, n int, timeout time.Duration) []byte {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(timeout)))
	buf := make([]byte, n)
	_, err := io.ReadFull(c, buf)
	require.NoError(t, err)
	return buf
}

// assertSilent checks that nothing arrives on c for d.
func assertSilent(t *testing.T, c net.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(d)))
	n, err := c.Read(make([]byte, 64))
	require.Zero(t, n)
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "expected timeout, got %v", err)
}

// assertClosed checks that the relay closed c without sending anything.
func assertClosed(t *testing.T, c net.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(timeout)))
	n, err := c.Read(make([]byte, 64))
	require.Zero(t, n)
	require.Error(t, err)
	var ne net.Error
	require.False(t, errors.As(err, &ne) && ne.Timeout(), "connection still open")
}
