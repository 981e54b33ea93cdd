package fanrelay_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bft-labs/fanrelay/pkg/fanrelay"
)

// ExampleNew starts a relay on a free port, connects one client and
// publishes a message to it.
func ExampleNew() {
	r, err := fanrelay.New(fanrelay.Config{
		ListenAddr:    "127.0.0.1:0",
		FlushInterval: 20 * time.Millisecond,
	})
	if err != nil {
		fmt.Printf("failed to create relay: %v\n", err)
		return
	}

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		fmt.Printf("failed to start: %v\n", err)
		return
	}
	defer r.Stop()

	conn, err := net.Dial("tcp", r.Addr().String())
	if err != nil {
		fmt.Printf("dial: %v\n", err)
		return
	}
	defer conn.Close()

	// Clients only receive messages published after they registered.
	for r.Clients() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	_ = r.Publish(ctx, []byte("hello"))

	buf := make([]byte, 5)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(conn, buf); err != nil {
		fmt.Printf("read: %v\n", err)
		return
	}
	fmt.Println(string(buf))

	// Output: hello
}

// Example_withEventHandler shows how to observe clients.
func Example_withEventHandler() {
	r, err := fanrelay.New(fanrelay.Config{ListenAddr: "127.0.0.1:0"},
		fanrelay.WithEventHandler(&clientLogger{}),
	)
	if err != nil {
		fmt.Printf("failed to create relay: %v\n", err)
		return
	}
	_ = r
}

type clientLogger struct {
	fanrelay.BaseEventHandler
}

func (clientLogger) OnClientConnected(e fanrelay.ClientEvent) {
	fmt.Printf("client %s connected from %s\n", e.ID, e.Remote)
}

func (clientLogger) OnClientDisconnected(e fanrelay.ClientEvent) {
	fmt.Printf("client %s left after %d messages\n", e.ID, e.Sent)
}
