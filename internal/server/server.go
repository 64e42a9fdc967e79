// Package server runs the per-connection accept loop: decode a batch of
// requests, drive it through a transform chain, and write the responses
// back in the order the requests arrived, even when chain executions for
// different batches overlap in time.
package server

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/protorelay/protorelay/internal/codec"
	"github.com/protorelay/protorelay/internal/config"
	"github.com/protorelay/protorelay/internal/message"
	"github.com/protorelay/protorelay/internal/metrics"
	"github.com/protorelay/protorelay/internal/obs"
	"github.com/protorelay/protorelay/internal/transform"
)

// Listener binds one address, decodes traffic with Codec, and drives it
// through chains built fresh per connection from Builder.
type Listener struct {
	Name    string
	Codec   codec.Codec
	Builder *transform.ChainBuilder
	Verbose bool

	ln  net.Listener
	sem chan struct{}
	wg  sync.WaitGroup
}

// NewListener binds address and returns a Listener ready to Serve.
func NewListener(name, address string, c codec.Codec, builder *transform.ChainBuilder) (*Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &Listener{
		Name:    name,
		Codec:   c,
		Builder: builder,
		ln:      ln,
		sem:     make(chan struct{}, config.MaxConnectionGoroutines),
	}, nil
}

// Addr returns the bound network address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts connections until ctx is cancelled or Shutdown is
// called, handling each on its own goroutine bounded by a semaphore of
// config.MaxConnectionGoroutines slots; a connection accepted while every
// slot is taken is closed at once.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.wg.Wait()
				return nil
			default:
				return err
			}
		}

		select {
		case l.sem <- struct{}{}:
		default:
			obs.Logf(l.Name, "", "connection limit reached, rejecting %s", conn.RemoteAddr())
			conn.Close()
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer func() { <-l.sem }()
			l.handleConn(ctx, conn)
		}()
	}
}

// Shutdown stops accepting new connections and waits up to
// config.ShutdownGracePeriod for in-flight connections to finish.
func (l *Listener) Shutdown() {
	l.ln.Close()
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(config.ShutdownGracePeriod):
		obs.Logf(l.Name, "", "shutdown grace period elapsed with connections still in flight")
	}
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	chain, err := l.Builder.Build()
	if err != nil {
		obs.Logf(l.Name, "", "chain build failed for %s: %v", conn.RemoteAddr(), err)
		return
	}

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	events := make(chan completionEvent, 64)
	ordered := make(chan completionEvent, 64)
	ro := newReorderer(ordered)
	go func() {
		ro.run(events)
		close(ordered)
	}()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var inFlight sync.WaitGroup
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		l.writeLoop(w, ordered)
	}()

	idx := 0
	for {
		batch, err := l.Codec.Decode(r)
		if err != nil {
			break
		}
		cid, err := obs.NewCorrelationID()
		if err != nil {
			obs.Logf(l.Name, "", "correlation id generation failed: %v", err)
		}
		for _, m := range batch {
			m.Meta.CorrelationID = cid
		}
		i := idx
		idx++
		inFlight.Add(1)
		go func(i int, batch []*message.Message) {
			defer inFlight.Done()
			resp, err := chain.Execute(connCtx, batch)
			if err != nil {
				metrics.ChainFailures.WithLabelValues(l.Builder.Name).Inc()
			}
			events <- completionEvent{idx: i, correlationID: cid, responses: resp, err: err}
		}(i, batch)
	}

	inFlight.Wait()
	close(events)
	<-writerDone
}

func (l *Listener) writeLoop(w *bufio.Writer, ordered <-chan completionEvent) {
	for ev := range ordered {
		if ev.err != nil {
			l.logChainError(ev.correlationID, ev.err)
			continue
		}
		for _, m := range ev.responses {
			if err := l.Codec.Encode(w, m); err != nil {
				obs.Logf(l.Name, ev.correlationID, "encode error: %v", err)
				return
			}
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func (l *Listener) logChainError(correlationID string, err error) {
	if !l.Verbose {
		return
	}
	obs.Logf(l.Name, correlationID, "chain error: %v", err)
}
