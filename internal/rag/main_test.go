package rag

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain enables goroutine leak detection for all tests in the rag package.
// This catches retriever fan-out goroutines outliving their errgroup.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// HTTP/2 connection pool goroutines persist across tests
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*http2clientConnReadLoop).run"),
		// genkit.Init calls signal.NotifyContext and discards the cancel
		// func, so its signal-watcher goroutine can never be stopped
		goleak.IgnoreTopFunction("os/signal.NotifyContext.func1"),
	)
}
