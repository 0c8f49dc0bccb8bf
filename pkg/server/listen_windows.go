package server

import (
	"net"

	winio "github.com/Microsoft/go-winio"
)

const pipeBufferSize = 64 * 1024

func listenNamedPipe(path string) (net.Listener, error) {
	return winio.ListenPipe(path, &winio.PipeConfig{
		InputBufferSize:  pipeBufferSize,
		OutputBufferSize: pipeBufferSize,
	})
}
