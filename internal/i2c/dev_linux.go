//go:build linux

package i2c

import (
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// i2c-dev ioctl requests and message flags (linux/i2c-dev.h, linux/i2c.h).
const (
	ioctlTimeout = 0x0702
	ioctlRdwr    = 0x0707
	msgRead      = 0x0001
)

// i2cMsg mirrors struct i2c_msg.
type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

// rdwrData mirrors struct i2c_rdwr_ioctl_data.
type rdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

// Device is an open /dev/i2c-N character device. It implements drivers.I2C.
type Device struct {
	fd   int
	path string
}

// Open opens the i2c-dev node at path and sets the adapter timeout.
// A zero timeout keeps the kernel default.
func Open(path string, timeout time.Duration) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if timeout > 0 {
		// I2C_TIMEOUT is in units of 10ms.
		ticks := int(timeout / (10 * time.Millisecond))
		if ticks < 1 {
			ticks = 1
		}
		if err := unix.IoctlSetInt(fd, ioctlTimeout, ticks); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("set timeout on %s: %w", path, err)
		}
	}
	return &Device{fd: fd, path: path}, nil
}

// Tx performs a write followed by a repeated-start read in one I2C_RDWR
// transaction. Either w or r may be empty.
func (d *Device) Tx(addr uint16, w, r []byte) error {
	msgs := make([]i2cMsg, 0, 2)
	if len(w) > 0 {
		msgs = append(msgs, i2cMsg{
			addr: addr,
			len:  uint16(len(w)),
			buf:  uintptr(unsafe.Pointer(&w[0])),
		})
	}
	if len(r) > 0 {
		msgs = append(msgs, i2cMsg{
			addr:  addr,
			flags: msgRead,
			len:   uint16(len(r)),
			buf:   uintptr(unsafe.Pointer(&r[0])),
		})
	}
	if len(msgs) == 0 {
		return nil
	}

	data := rdwrData{
		msgs:  uintptr(unsafe.Pointer(&msgs[0])),
		nmsgs: uint32(len(msgs)),
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), ioctlRdwr, uintptr(unsafe.Pointer(&data)))
	runtime.KeepAlive(w)
	runtime.KeepAlive(r)
	runtime.KeepAlive(msgs)
	if errno != 0 {
		return fmt.Errorf("%s: %w", d.path, errno)
	}
	return nil
}

// Close releases the device node.
func (d *Device) Close() error {
	if err := unix.Close(d.fd); err != nil {
		return fmt.Errorf("close %s: %w", d.path, err)
	}
	return nil
}
