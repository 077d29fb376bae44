//go:build linux

package function

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// eventfdNotifier signals an eventfd owned by the consumer. The
// session takes ownership of the file descriptor and closes it on
// teardown.
type eventfdNotifier struct {
	fd int
}

func notifierFromHandle(handle int) (Notifier, error) {
	return &eventfdNotifier{fd: handle}, nil
}

func (n *eventfdNotifier) Signal() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(n.fd, buf[:])
	return err
}

func (n *eventfdNotifier) Close() error {
	return unix.Close(n.fd)
}
