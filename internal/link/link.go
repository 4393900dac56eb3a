// Package link reports whether the network link under the transport is usable.
package link

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/yanun0323/errors"

	"skstream/pkg/exception"
)

const wirelessProcPath = "/proc/net/wireless"

// SignalReporter exposes the link signal level.
type SignalReporter interface {
	// Signal returns the level in dBm, or false when it is unknown.
	Signal() (float64, bool)
}

// Static is a link that is always up, for wired hosts and tests.
type Static struct{}

func (Static) Up() bool                      { return true }
func (Static) Connect(context.Context) error { return nil }

// Interface watches one OS network interface. Bringing the interface up is
// left to the OS, so Connect only checks it again.
type Interface struct {
	name     string
	procPath string
	lookup   func(name string) (*net.Interface, error)
}

// NewInterface watches the named interface.
func NewInterface(name string) *Interface {
	return &Interface{
		name:     name,
		procPath: wirelessProcPath,
		lookup:   net.InterfaceByName,
	}
}

// Name returns the interface name.
func (i *Interface) Name() string {
	return i.name
}

// Up reports whether the interface exists, is administratively up and is running.
func (i *Interface) Up() bool {
	iface, err := i.lookup(i.name)
	if err != nil {
		return false
	}
	return iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagRunning != 0
}

// Connect returns exception.ErrLinkUnavailable while the interface is down.
func (i *Interface) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := i.lookup(i.name); err != nil {
		return errors.Wrap(exception.ErrLinkNotFound, err.Error()).With("interface", i.name)
	}
	if !i.Up() {
		return errors.Wrap(exception.ErrLinkUnavailable, "interface down").With("interface", i.name)
	}
	return nil
}

// Signal reads the interface level from /proc/net/wireless.
func (i *Interface) Signal() (float64, bool) {
	f, err := os.Open(i.procPath)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	level, ok, err := ParseWireless(f, i.name)
	if err != nil {
		return 0, false
	}
	return level, ok
}

// ParseWireless extracts the signal level column for iface from a
// /proc/net/wireless listing. It reports false when iface is not listed.
func ParseWireless(r io.Reader, iface string) (float64, bool, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		name, rest, found := strings.Cut(sc.Text(), ":")
		if !found || strings.TrimSpace(name) != iface {
			continue
		}
		fields := strings.Fields(rest)
		// status, link quality, level, noise, ...
		if len(fields) < 3 {
			return 0, false, errors.Errorf("short wireless line for %s: %q", iface, rest)
		}
		level, err := strconv.ParseFloat(strings.TrimSuffix(fields[2], "."), 64)
		if err != nil {
			return 0, false, errors.Wrap(err, "parse wireless level").With("interface", iface)
		}
		return level, true, nil
	}
	return 0, false, sc.Err()
}
