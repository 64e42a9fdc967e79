// protorelay runs a protocol-aware relay: one or more listeners, each
// decoding a wire protocol and driving traffic through a named
// transform chain loaded from a topology file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/protorelay/protorelay/internal/codec"
	"github.com/protorelay/protorelay/internal/codec/resp"
	"github.com/protorelay/protorelay/internal/config"
	"github.com/protorelay/protorelay/internal/message"
	"github.com/protorelay/protorelay/internal/server"
	"github.com/protorelay/protorelay/internal/transform"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: protorelay [flags]

Loads a topology file describing listeners and transform chains, and
relays protocol traffic through them until interrupted.

Flags:
`)
		flag.PrintDefaults()
	}
	topologyPath := flag.String("topology", "", "path to the topology YAML file (required)")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9090", "address to serve Prometheus metrics on")
	validateOnly := flag.Bool("validate-only", false, "load and validate the topology, then exit")
	verbose := flag.Bool("verbose", false, "enable verbose chain error logging")
	flag.Parse()

	if *topologyPath == "" {
		fmt.Fprintln(os.Stderr, "error: -topology is required")
		flag.Usage()
		os.Exit(2)
	}

	topo, err := config.LoadTopology(*topologyPath)
	if err != nil {
		log.Fatalf("load topology: %v", err)
	}

	builders, err := config.BuildAll(topo)
	if err != nil {
		log.Fatalf("build chains: %v", err)
	}

	if errs := validateListeners(topo, builders); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
		}
		os.Exit(1)
	}

	if *validateOnly {
		log.Println("topology OK")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Printf("metrics listening on %s", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server: %v", err)
		}
	}()

	listeners := make([]*server.Listener, 0, len(topo.Listeners))
	for _, lc := range topo.Listeners {
		c, builder, err := resolveListener(lc, builders)
		if err != nil {
			log.Fatalf("listener %q: %v", lc.Name, err)
		}
		ln, err := server.NewListener(lc.Name, lc.Address, c, builder)
		if err != nil {
			log.Fatalf("listener %q: listen %s: %v", lc.Name, lc.Address, err)
		}
		ln.Verbose = *verbose
		listeners = append(listeners, ln)
		log.Printf("listener %q serving %s on %s", lc.Name, lc.Protocol, ln.Addr())

		go func(ln *server.Listener) {
			if err := ln.Serve(ctx); err != nil {
				log.Printf("listener %q: %v", ln.Name, err)
			}
		}(ln)
	}

	<-ctx.Done()
	log.Println("shutting down")
	for _, ln := range listeners {
		ln.Shutdown()
	}
}

func resolveListener(lc config.ListenerConfig, builders *config.Builders) (codec.Codec, *transform.ChainBuilder, error) {
	protocol, ok := config.ProtocolFromString(lc.Protocol)
	if !ok {
		return nil, nil, fmt.Errorf("unknown protocol %q", lc.Protocol)
	}
	builder, ok := builders.Chain(lc.Chain)
	if !ok {
		return nil, nil, fmt.Errorf("chain %q not defined", lc.Chain)
	}
	var c codec.Codec
	switch protocol {
	case message.ProtocolRedis:
		c = resp.Codec{}
	default:
		return nil, nil, fmt.Errorf("no codec registered for protocol %q", lc.Protocol)
	}
	return c, builder, nil
}

func validateListeners(topo *config.Topology, builders *config.Builders) []string {
	var errs []string
	for _, lc := range topo.Listeners {
		if _, ok := config.ProtocolFromString(lc.Protocol); !ok {
			errs = append(errs, fmt.Sprintf("listener %q: unknown protocol %q", lc.Name, lc.Protocol))
			continue
		}
		builder, ok := builders.Chain(lc.Chain)
		if !ok {
			errs = append(errs, fmt.Sprintf("listener %q: chain %q not defined", lc.Name, lc.Chain))
			continue
		}
		errs = append(errs, builder.Validate()...)
	}
	return errs
}
