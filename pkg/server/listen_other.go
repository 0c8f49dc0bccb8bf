//go:build !windows

package server

import (
	"errors"
	"net"
)

var errNamedPipeUnsupported = errors.New("named pipes are only supported on Windows")

func listenNamedPipe(string) (net.Listener, error) {
	return nil, errNamedPipeUnsupported
}
