//go:build linux

package serial

import "golang.org/x/sys/unix"

const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
)

// baudConstants maps a configured integer baud rate onto the termios Bxxxx
// speed constant unix.IoctlSetTermios expects in Cflag.
var baudConstants = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
}

// setBaud applies the already-resolved Bxxxx speed constant to both the
// input and output speed fields and reapplies the termios settings.
func setBaud(fd int, t *unix.Termios, speed uint32) error {
	t.Cflag &^= unix.CBAUD
	t.Cflag |= speed & unix.CBAUD
	t.Ispeed = speed
	t.Ospeed = speed
	return unix.IoctlSetTermios(fd, ioctlSetTermios, t)
}
