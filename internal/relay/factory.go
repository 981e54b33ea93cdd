package relay

import (
	"net"

	"github.com/bft-labs/fanrelay/internal/ports"
	"github.com/bft-labs/fanrelay/pkg/log"
)

// HandlerFactory creates the handler of an accepted connection.
type HandlerFactory interface {
	NewHandler(conn net.Conn) (*ConnectionHandler, error)
}

// DefaultHandlerFactory builds handlers sharing one distributor and queue factory.
type DefaultHandlerFactory struct {
	Queues      ports.QueueFactory
	Distributor *Distributor
	Config      HandlerConfig
	Logger      log.Logger
	Metrics     *Metrics
}

func (f *DefaultHandlerFactory) NewHandler(conn net.Conn) (*ConnectionHandler, error) {
	return NewConnectionHandler(conn, f.Queues, f.Distributor, f.Config, f.Logger, f.Metrics)
}
