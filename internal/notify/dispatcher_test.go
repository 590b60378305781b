package notify_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/shuttled/internal/config"
	"codeberg.org/mutker/shuttled/internal/notify"
)

func TestNewDispatcherWithoutHostIsNoop(t *testing.T) {
	d := notify.NewDispatcher(config.Mail{})

	err := d.Send(context.Background(), "subject", "body", notify.CategoryAdmin)
	assert.NoError(t, err, "unconfigured mail suppresses delivery without failing")
}

func TestSendReturnsWhenServerStalls(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Accept the connection and never speak, like a wedged mail server.
	hold := make(chan struct{})
	defer close(hold)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		<-hold
	}()

	d := notify.NewDispatcher(config.Mail{
		Host: "127.0.0.1",
		Port: ln.Addr().(*net.TCPAddr).Port,
		From: "shuttled@test.invalid",
		To:   []string{"ops@test.invalid"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.Send(ctx, "subject", "body", notify.CategoryStorage)
	}()

	select {
	case err := <-done:
		assert.Error(t, err, "a silent server must surface a delivery error")
	case <-time.After(2 * time.Second):
		t.Fatal("Send still blocked long after the context deadline")
	}
}
