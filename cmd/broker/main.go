// Command broker runs the DSA broker core: it wires the transport,
// dispatcher, node tree, upstream registry, and event loop together and
// drives them until terminated.
//
// Grounded on controller/main.go's single-binary, os.Args[1]-dispatched
// subcommand shape; this broker only has one real subcommand so far
// ("serve"), but the shape is kept to leave room for an "add-upstream"
// CLI helper later without restructuring.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/dsabroker/broker/internal/adminapi"
	"github.com/dsabroker/broker/internal/codec"
	"github.com/dsabroker/broker/internal/dispatch"
	"github.com/dsabroker/broker/internal/eventloop"
	"github.com/dsabroker/broker/internal/link"
	"github.com/dsabroker/broker/internal/metrics"
	"github.com/dsabroker/broker/internal/node"
	"github.com/dsabroker/broker/internal/transport"
	"github.com/dsabroker/broker/internal/upstream"
	"github.com/dsabroker/broker/pkg/admin"
	"github.com/dsabroker/broker/pkg/dirwatcher"
	"github.com/dsabroker/broker/pkg/flags"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: broker serve [flags]")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	wsAddr := fs.String("ws-addr", ":4040", "address to serve the DSLink WebSocket endpoint on")
	adminAddr := fs.String("admin-addr", ":4041", "address to serve /metrics, /ping, /ready, and the debug API on")
	upstreamDir := fs.String("upstream-dir", "upstream", "directory holding persisted upstream connection files")
	enablePprof := fs.Bool("enable-pprof", false, "serve /debug/pprof/* on the admin listener")
	fs.Parse(args)

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		log.SetFormatter(&log.JSONFormatter{})
	}
	flags.ConfigureAndParse()
	logger := log.WithField("component", "broker")

	tree := node.NewTree()
	registry, err := upstream.New(tree, *upstreamDir, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build /sys/upstream")
	}
	if err := registry.LoadAll(); err != nil {
		logger.WithError(err).Fatal("failed to reload persisted upstream connections")
	}

	d := dispatch.New(tree, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dirwatcher.Watch(ctx, *upstreamDir, func(event fsnotify.Event) {
		logger.WithField("event", event.String()).Debug("upstream config directory changed on disk")
	})

	ts := transport.NewServer(codec.JSON{}, transport.Config{}, logger)
	ts.OnConnect = func(l *link.Link) {
		logger.WithField("link", l.String()).Info("link connected")
		d.OnLinkConnected(l)
	}
	ts.OnDisconnect = func(l *link.Link) {
		logger.WithField("link", l.String()).Info("link disconnected")
		d.OnLinkDisconnected(l)
	}

	collectors := metrics.NewCollectors(prometheus.DefaultRegisterer)
	d.SetMetrics(collectors)

	loop := eventloop.New(ts.Blocker(func(in transport.Inbound) {
		collectors.FramesHandled.WithLabelValues(roleLabel(in.Link)).Inc()
		d.Handle(in.Link, in.Frame)
	}), logger)

	// ready is read from the admin HTTP goroutine and written from the
	// EventLoop thread, so it gets an atomic instead of a plain bool.
	var ready atomic.Bool
	loop.Schedule(func() { ready.Store(true) })

	// ListStreamsOpen/InvokeStreamsOpen/HubCacheEntries are a census, not
	// an event count, so they're refreshed on a recurring tick rather
	// than at every mutation site; the task reschedules itself each run.
	const gaugeRefreshInterval = 5 * time.Second
	var refreshGauges func()
	refreshGauges = func() {
		d.RefreshGaugeMetrics()
		loop.ScheduleAfter(gaugeRefreshInterval, refreshGauges)
	}
	loop.ScheduleAfter(gaugeRefreshInterval, refreshGauges)

	go func() {
		logger.WithField("addr", *wsAddr).Info("serving DSLink websocket endpoint")
		if err := http.ListenAndServe(*wsAddr, ts); err != nil {
			logger.WithError(err).Fatal("websocket listener failed")
		}
	}()

	go func() {
		adminSrv := admin.NewServer(*adminAddr, *enablePprof, ready.Load)
		mux := http.NewServeMux()
		mux.Handle("/", adminSrv.Handler)
		mux.Handle("/nodes/", adminapi.New(tree, logger))
		logger.WithField("addr", *adminAddr).Info("serving admin endpoint")
		srv := &http.Server{Addr: *adminAddr, Handler: mux, ReadHeaderTimeout: 15 * time.Second}
		if err := srv.ListenAndServe(); err != nil {
			logger.WithError(err).Fatal("admin listener failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		loop.Stop()
		cancel()
	}()

	loop.Run()
}

func roleLabel(l *link.Link) string {
	switch {
	case l.IsRequester && l.IsResponder:
		return "both"
	case l.IsRequester:
		return "requester"
	case l.IsResponder:
		return "responder"
	default:
		return "none"
	}
}
