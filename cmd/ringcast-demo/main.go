// Command ringcast-demo wires the dispatcher core together with its two
// outside-the-core collaborators — the stats/websocket API and the
// WebTransport network ingress — into a runnable process, optionally
// driven by a synthetic tone-and-video producer instead of a real one.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"ringcast/internal/dispatcher"
	"ringcast/internal/netingress"
	"ringcast/internal/statsapi"
	"ringcast/internal/tonegen"
)

func main() {
	addr := flag.String("addr", ":4433", "webtransport ingress listen address")
	apiAddr := flag.String("api-addr", ":8080", "stats/websocket api listen address")
	ingressPath := flag.String("ingress-path", "/ingest", "webtransport ingress path")
	certValidity := flag.Duration("cert-validity", 30*24*time.Hour, "self-signed ingress certificate validity")
	hostname := flag.String("hostname", "localhost", "common name / SAN for the self-signed ingress certificate")
	mode := flag.String("mode", "av", "dispatcher mode: av (gop-aligned) or audio (free-running)")
	maxCapacity := flag.Uint("max-capacity", 512, "informational ring capacity hint")
	testProducer := flag.String("test-producer", "", "if set, name of a synthetic tone/video producer to run instead of real ingress")
	flag.Parse()

	dispMode := dispatcher.DispatcherAudioAndVideo
	if *mode == "audio" {
		dispMode = dispatcher.DispatcherAudioOnly
	}

	disp := dispatcher.New(dispatcher.Config{
		MaxCapacity: uint32(*maxCapacity),
		Mode:        dispMode,
	})
	disp.Start()

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[ringcast-demo] shutting down...")
		cancel()
	}()

	stats := statsapi.New(disp)
	go func() {
		if err := stats.Run(ctx, *apiAddr); err != nil {
			log.Fatalf("[ringcast-demo] stats api: %v", err)
		}
	}()
	log.Printf("[ringcast-demo] stats/websocket api listening on %s", *apiAddr)

	if *testProducer != "" {
		go tonegen.Run(ctx, disp, *testProducer)
	} else {
		ingress, err := netingress.New(*addr, *ingressPath, *certValidity, *hostname, disp)
		if err != nil {
			log.Fatalf("[ringcast-demo] netingress: %v", err)
		}
		log.Printf("[ringcast-demo] ingress certificate fingerprint: %s", ingress.Fingerprint())

		go func() {
			if err := ingress.Run(ctx); err != nil {
				log.Fatalf("[ringcast-demo] netingress: %v", err)
			}
		}()
		log.Printf("[ringcast-demo] webtransport ingress listening on %s%s", *addr, *ingressPath)
	}

	<-ctx.Done()
	disp.Stop()
	log.Println("[ringcast-demo] stopped")
}
