// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gops/agent"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/packetry/packetry/internal/capturesource"
	"github.com/packetry/packetry/internal/config"
	"github.com/packetry/packetry/internal/decoder"
	"github.com/packetry/packetry/internal/descriptor"
	"github.com/packetry/packetry/internal/httpapi"
	"github.com/packetry/packetry/internal/metrics"
	"github.com/packetry/packetry/internal/pcapfile"
	"github.com/packetry/packetry/internal/pipeline"
	"github.com/packetry/packetry/internal/store"
	"github.com/packetry/packetry/internal/view"
	"github.com/packetry/packetry/pkg/log"
)

func main() {
	var flagConfigFile string
	var flagGops bool
	var flagLogLevel string
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default config options by those specified in `config.json`")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "One of debug, info, notice, warn, err, crit")
	flag.Parse()

	log.SetLogLevel(flagLogLevel)

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing '.env' file failed: %s", err.Error())
	}

	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		log.Fatal(err)
	}

	source, err := openSource(flag.Arg(0), cfg)
	if err != nil {
		log.Fatal(err)
	}

	st := store.New(cfg.StoreCapacity)
	dec := decoder.New(st, nil)
	eng := descriptor.NewEngine(st, dec)
	dec = decoder.New(st, eng)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	p := pipeline.New(source, dec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("received shutdown signal, cancelling capture")
		p.Cancel()
		cancel()
	}()

	if cfg.HTTPAddr != "" {
		views := map[string]*view.View{
			"hierarchical": view.NewHierarchical(st),
			"transactions": view.NewTransactions(st),
			"packets":      view.NewPackets(st),
		}
		srv := httpapi.NewServer(views)
		go func() {
			log.Infof("inspection API listening on %s", cfg.HTTPAddr)
			if err := http.ListenAndServe(cfg.HTTPAddr, srv.Router()); err != nil && err != http.ErrServerClosed {
				log.Errorf("inspection API stopped: %s", err)
			}
		}()
	}

	if cfg.MetricsAddr != "" {
		go func() {
			log.Infof("metrics listening on %s", cfg.MetricsAddr)
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler(reg))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server stopped: %s", err)
			}
		}()
	}

	if err := p.Run(ctx); err != nil {
		log.Errorf("capture pipeline stopped: %s", err)
		os.Exit(1)
	}

	m.StorePackets.Set(float64(st.PacketCount()))
	log.Infof("capture finished: %d packets decoded", st.PacketCount())
	os.Exit(0)
}

// openSource builds a CaptureSource for the positional file-path
// argument per the documented CLI surface. Device backends (Cynthion,
// iCE40-usbtrace) are out of scope; only file playback is wired here.
func openSource(path string, cfg config.Config) (capturesource.CaptureSource, error) {
	if path == "" {
		return nil, fmt.Errorf("no capture file given; usage: packetry [flags] <file.pcap|file.pcapng>")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var src capturesource.CaptureSource
	if isPcapng(f) {
		src = capturesource.NewPcapngSource(pcapfile.NewNGReader(f))
	} else {
		r, err := pcapfile.NewPcapReader(f)
		if err != nil {
			return nil, err
		}
		src = capturesource.NewPcapSource(r)
	}

	if cfg.RateLimitEventsPerSecond > 0 {
		src = capturesource.NewRateLimited(src, cfg.RateLimitEventsPerSecond, cfg.RateLimitBurst)
	}
	return src, nil
}

// isPcapng peeks the first 4 bytes for pcapng's section-header-block
// magic, rewinding the file afterward. pcap and pcapng share no magic
// value, so this check is unambiguous.
func isPcapng(f *os.File) bool {
	var buf [4]byte
	n, _ := f.Read(buf[:])
	f.Seek(0, 0)
	return n == 4 && buf[0] == 0x0A && buf[1] == 0x0D && buf[2] == 0x0D && buf[3] == 0x0A
}
