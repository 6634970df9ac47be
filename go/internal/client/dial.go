package client

import (
	"context"

	"github.com/mcdev12/ordersync/go/internal/transport"
)

// Dial connects to the server over websocket when wsURL is set, otherwise
// over line-framed TCP at addr.
func Dial(ctx context.Context, addr, wsURL string, config transport.Config) (transport.Conn, error) {
	if wsURL != "" {
		conn, err := transport.DialWS(ctx, wsURL, config)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	conn, err := transport.DialTCP(ctx, addr, config)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
