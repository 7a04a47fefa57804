// Command ccrouterd runs the cluster-controller message router as a
// standalone process.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coremesh/ccrouter/pkg/admin"
	"github.com/coremesh/ccrouter/pkg/debugapi"
	"github.com/coremesh/ccrouter/pkg/flags"
	"github.com/coremesh/ccrouter/router"
	"github.com/coremesh/ccrouter/scheduler"
	"github.com/coremesh/ccrouter/transportstub"
	log "github.com/sirupsen/logrus"
)

func main() {
	cmd := flag.NewFlagSet("ccrouterd", flag.ExitOnError)

	metricsAddr := cmd.String("metrics-addr", ":9996", "address to serve /metrics, /ping and /ready on")
	debugAddr := cmd.String("debug-addr", ":9997", "address to serve the read-only debug introspection API on")
	enablePprof := cmd.Bool("enable-pprof", false, "enable pprof endpoints on the admin server")

	udsSocketPath := cmd.String("uds-socket-path", "", "unix domain socket path to accept LocalClient connections on; empty disables the UDS skeleton")
	globalBrokerURI := cmd.String("global-broker-uri", "", "MQTT broker URI for the GlobalBroker transport; empty disables global messaging")
	gbid := cmd.String("gbid", "", "global backend identifier for the configured MQTT broker")
	ownGlobalTopic := cmd.String("own-global-topic", "", "this node's own inbound MQTT topic, used to reject self-referential routing entries")

	messageQueueLimit := cmd.Int("message-queue-limit", 0, "maximum total messages held in the per-recipient queue, 0 = unbounded")
	perParticipantQueueLimit := cmd.Int("per-participant-message-queue-limit", 0, "maximum messages queued per recipient PID, 0 = unbounded")
	messageQueueLimitBytes := cmd.Int64("message-queue-limit-bytes", 0, "maximum total bytes held in the per-recipient queue, 0 = unbounded")
	sendMsgRetryIntervalMs := cmd.Int64("send-msg-retry-interval-ms", 1000, "base interval, in milliseconds, for exponential backoff retries")
	transportNotAvailableQueueLimit := cmd.Int("transport-not-available-queue-limit", 0, "maximum messages parked behind an unavailable transport, 0 = unbounded")
	transportNotAvailableQueueLimitBytes := cmd.Int64("transport-not-available-queue-limit-bytes", 0, "maximum bytes parked behind an unavailable transport, 0 = unbounded")
	aclAudit := cmd.Bool("acl-audit", false, "run the access-control gate in audit mode (log denials, forward anyway)")
	discardUnroutable := cmd.Bool("discard-unroutable-replies-and-publications", true, "drop reply/subscription-reply/publication messages with no known route instead of queuing them")
	routingTableGCInterval := cmd.Duration("routing-table-gc-interval", 30*time.Second, "how often to sweep expired, non-sticky routing-table entries")

	flags.ConfigureAndParse(cmd, os.Args[1:])

	ready := false
	adminServer := admin.NewServer(*metricsAddr, *enablePprof, &ready)

	go func() {
		log.Infof("starting admin server on %s", *metricsAddr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("admin server error (%s): %s", *metricsAddr, err)
		}
	}()

	entry := log.NewEntry(log.StandardLogger())

	var ownGlobalAddress *router.Address
	var gbids []string

	rt := router.NewRoutingTable(ownGlobalAddress)
	queue := router.NewMessageQueue(*messageQueueLimit, *perParticipantQueueLimit, *messageQueueLimitBytes)
	skeletons := router.NewMulticastMessagingSkeletonDirectory()
	multicastDir := router.NewMulticastReceiverDirectory(rt, skeletons, entry)

	sched := scheduler.New(func(r scheduler.Runnable) { go r.Run() }, entry)
	defer sched.Shutdown()

	var dispatcher *router.Dispatcher

	inprocess := transportstub.NewInProcessTransport()
	udsTransport := transportstub.NewUDSTransport(func(m *router.ImmutableMessage) { dispatcher.Route(m, nil) }, entry)
	wsTransport := transportstub.NewWebSocketTransport(func(m *router.ImmutableMessage) { dispatcher.Route(m, nil) }, entry)
	factories := []router.IMessagingStubFactory{inprocess, udsTransport, wsTransport}

	var mqttTransport *transportstub.MQTTTransport
	if *globalBrokerURI != "" {
		mqttTransport = transportstub.NewMQTTTransport(func(m *router.ImmutableMessage) { dispatcher.Route(m, nil) }, entry)
		factories = append(factories, mqttTransport)
		skeletons.Register(router.KindGlobalBroker, *gbid, mqttTransport)

		addr := router.NewGlobalBroker(*globalBrokerURI, *ownGlobalTopic, *gbid)
		ownGlobalAddress = &addr
		gbids = []string{*gbid}
		rt = router.NewRoutingTable(ownGlobalAddress)
		multicastDir = router.NewMulticastReceiverDirectory(rt, skeletons, entry)
	}

	rt.RunGC(*routingTableGCInterval)
	defer rt.Stop()

	stubFactory := transportstub.NewCompositeStubFactory(factories...)

	settings := router.Settings{
		MessageQueueLimit: *messageQueueLimit,
		PerParticipantIDMessageQueueLimit: *perParticipantQueueLimit,
		MessageQueueLimitBytes: *messageQueueLimitBytes,
		TransportNotAvailableQueueLimit:      *transportNotAvailableQueueLimit,
		TransportNotAvailableQueueLimitBytes: *transportNotAvailableQueueLimitBytes,
		SendMsgRetryInterval: time.Duration(*sendMsgRetryIntervalMs) * time.Millisecond,
		MaxBackoff: 60 * time.Second,
		ACLAudit: *aclAudit,
		DiscardUnroutableRepliesAndPublications: *discardUnroutable,
	}

	dispatcher = router.NewDispatcher(router.DispatcherConfig{
		Settings:         settings,
		RoutingTable:     rt,
		Queue:            queue,
		MulticastDir:     multicastDir,
		Scheduler:        sched,
		StubFactory:      stubFactory,
		TransportStatus:  stubFactory,
		OwnGlobalAddress: ownGlobalAddress,
		GBIDs:            gbids,
		Logger:           entry,
	})

	if *udsSocketPath != "" {
		listener, err := net.Listen("unix", *udsSocketPath)
		if err != nil {
			log.Fatalf("failed to listen on unix socket %s: %s", *udsSocketPath, err)
		}
		go func() {
			if err := udsTransport.Serve(listener); err != nil {
				log.Errorf("uds skeleton stopped: %s", err)
			}
		}()
	}

	debugHandler := debugapi.New(rt, queue, multicastDir, entry)
	debugServer := &http.Server{Addr: *debugAddr, Handler: debugHandler, ReadHeaderTimeout: 15 * time.Second}
	go func() {
		log.Infof("starting debug introspection api on %s", *debugAddr)
		if err := debugServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("debug api server error (%s): %s", *debugAddr, err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ready = true
	log.Info("ccrouterd ready")

	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown order: the MQTT transport is disconnected first, then the
	// debug and admin HTTP servers are shut down. The routing-table GC and
	// the delayed scheduler stop through the deferred calls above when main
	// returns. The UDS and WebSocket transports are not stopped explicitly,
	// and the dispatcher has no shutdown step of its own.
	if mqttTransport != nil {
		mqttTransport.Close()
	}
	debugServer.Shutdown(ctx)
	adminServer.Shutdown(ctx)
}
