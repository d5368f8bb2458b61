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
	"time"

	"fieldgate/config"
	"fieldgate/engine"
	"fieldgate/gateway"
	"fieldgate/messaging"
	"fieldgate/modem"
	"fieldgate/queue"
	"fieldgate/radio"
	"fieldgate/store"
	"fieldgate/www"
)

func main() {
	configPath := flag.String("config", "fieldgate.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	flag.Parse()

	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *port > 0 {
		cfg.Web.Port = *port
		cfg.Web.Enabled = true
	}

	sess := &gateway.Session{
		Identity: gateway.Identity{
			SerialNumber: cfg.SerialNumber,
			RadioAddress: cfg.RadioAddress,
			ProjectTag:   cfg.ProjectTag,
			Lat:          cfg.Lat,
			Lng:          cfg.Lng,
		},
		ReceiverOnly: cfg.ReceiverOnly,
		Debug:        *debug || cfg.Debug,
		Clock:        gateway.NewRTC(),
		// Bench readings until an ADC-backed PowerMonitor is wired in.
		Power: gateway.FixedPower{Battery: 4.0, Solar: 18.0, SolarMA: 0, TempC: 20.0},
	}

	// History store is best-effort: a dead SD card must not stop the
	// measurement schedule.
	db, err := store.Open(cfg.Storage.HistoryPath)
	if err != nil {
		log.Printf("open history store: %v (running without history)", err)
		db = nil
	} else {
		defer db.Close()
	}

	q := queue.New(cfg.Storage.QueuePath)

	link, err := radio.OpenSerial(cfg.Radio, cfg.RadioAddress)
	if err != nil {
		log.Fatalf("open radio port %s: %v", cfg.Radio.Port, err)
	}
	defer link.Close()
	proto := radio.NewProtocol(link, cfg.Radio)
	proto.SetLogFunc(log.Printf)

	modemPort, err := modem.OpenSerial(cfg.Modem)
	if err != nil {
		log.Fatalf("open modem port %s: %v", cfg.Modem.Port, err)
	}
	defer modemPort.Close()
	uplink := modem.NewSession(modemPort, cfg.Modem)
	uplink.SetLogFunc(log.Printf)
	if sess.Debug {
		uplink.Engine().SetDebugFunc(log.Printf)
	}

	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		Session:    sess,
		Queue:      q,
		DB:         db,
		Acquirer:   proto,
		Uplink:     uplink,
		LogFunc:    log.Printf,
		Debug:      sess.Debug,
	})
	eng.Start()
	defer eng.Stop()

	// Bench mirror: publish engine events to a local MQTT broker.
	if cfg.Mirror.Enabled {
		mirror := messaging.NewMirror(&cfg.Mirror, log.Printf)
		if err := mirror.Connect(); err != nil {
			log.Printf("mirror connect: %v (will keep retrying)", err)
		}
		mirror.Attach(eng.Events)
		defer mirror.Close(eng.Events)
	}

	if !cfg.Web.Enabled {
		log.Printf("fieldgate running: serial=%d (web surface disabled)", cfg.SerialNumber)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")
		return
	}

	router, stopWeb := www.NewRouter(eng)
	defer stopWeb()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Printf("fieldgate listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")

	// Stop SSE event hub first so long-lived connections close
	stopWeb()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
}
