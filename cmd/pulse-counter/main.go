// Command pulse-counter counts meter pulses on GPIO inputs, keeps the
// totals durable across power loss and publishes them to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/sweeney/pulse-counter/internal/config"
	"github.com/sweeney/pulse-counter/internal/counter"
	"github.com/sweeney/pulse-counter/internal/gpio"
	"github.com/sweeney/pulse-counter/internal/kv"
	"github.com/sweeney/pulse-counter/internal/mqtt"
	"github.com/sweeney/pulse-counter/internal/pulse"
	"github.com/sweeney/pulse-counter/internal/web"
)

// configModeKey is the boot flag in the "mode" namespace. When set the
// daemon starts the portal only and skips MQTT; the flag is cleared at
// every boot so the mode lasts exactly one power cycle.
const configModeKey = "config_mode"

func main() {
	configPath := flag.String("config", "/etc/pulse-counter.yaml", "Configuration file")
	broker := flag.String("broker", "", "MQTT broker address (overrides config)")
	httpAddr := flag.String("http", "", "HTTP portal address (overrides config)")
	dbPath := flag.String("db", "", "Counter database path (overrides config)")
	configMode := flag.Bool("config-mode", false, "Start the portal only, skip MQTT")
	printCounters := flag.Bool("print-counters", false, "Print persisted counters and exit")

	flag.Parse()

	if err := run(*configPath, *broker, *httpAddr, *dbPath, *configMode, *printCounters); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(configPath, broker, httpAddr, dbPath string, configMode, printCounters bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if broker != "" {
		cfg.Broker = broker
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	db, err := kv.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	counters, err := db.Namespace("counters")
	if err != nil {
		return fmt.Errorf("counters namespace: %w", err)
	}
	mode, err := db.Namespace("mode")
	if err != nil {
		return fmt.Errorf("mode namespace: %w", err)
	}

	store := counter.Load(counters, len(cfg.Pins))

	if printCounters {
		values := store.ReadAll()
		for i, name := range store.Names() {
			fmt.Printf("%s: %d\n", name, values[i])
		}
		return nil
	}

	configMode = configMode || readConfigModeFlag(mode)

	persister := counter.NewPersister(store, counters, cfg.SaveThreshold, cfg.PersistInterval())

	watcher, err := gpio.NewRealWatcher(gpio.DefaultChip, cfg.Pins, cfg.EdgeQueue)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer watcher.Close()

	engine := pulse.NewEngine(store, watcher, watcher.Events(), cfg.Debounce(), cfg.NotifyQueue)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		persister.Run(ctx)
	}()

	// Pulse observer: the bounded notification channel decouples
	// counting from logging. A dropped notification loses a log
	// line, never a count.
	go func() {
		for index := range engine.Pulses() {
			v, err := store.Read(index)
			if err != nil {
				continue
			}
			log.Printf("pulse: channel %d, total %d", index, v)
		}
	}()

	var connected func() bool
	sched := cron.New()
	if configMode {
		log.Printf("config mode: MQTT disabled until next boot")
	} else {
		// Announce on every (re)connection. The first connect can
		// complete before the reporter exists, so the handler only
		// signals and a goroutine drains once wiring is done.
		connects := make(chan struct{}, 1)
		onConnect := func() {
			select {
			case connects <- struct{}{}:
			default:
			}
		}

		mq, err := mqtt.NewRealClient(cfg.Broker, cfg.Device, cfg.Username, cfg.Password, onConnect)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer mq.Close()
		connected = mq.IsConnected

		reporter := mqtt.NewReporter(mq, store, cfg.TopicPrefix, cfg.Device)
		go func() {
			for range connects {
				reporter.PublishStatus("connected")
				reporter.PublishDiscovery()
			}
		}()

		commander := mqtt.NewCommander(mq, store, persister, cfg.TopicPrefix)
		if err := commander.Start(); err != nil {
			return fmt.Errorf("subscribe commands: %w", err)
		}

		if _, err := sched.AddFunc(fmt.Sprintf("@every %s", cfg.PublishPeriod()), reporter.PublishAll); err != nil {
			return fmt.Errorf("schedule publish: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	srv := web.New(cfg.HTTPAddr, store, persister, cfg, connected)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()
	defer srv.Shutdown(context.Background())
	log.Printf("portal listening on %s", cfg.HTTPAddr)

	log.Printf("started: channels=%d debounce=%v threshold=%d broker=%s",
		len(cfg.Pins), cfg.Debounce(), cfg.SaveThreshold, cfg.Broker)

	<-ctx.Done()
	log.Printf("shutting down")

	// Stop the counting path before the final flush so no increment
	// lands after its channel was written.
	watcher.Close()
	wg.Wait()
	if n := persister.Flush(); n > 0 {
		log.Printf("flushed %d counters", n)
	}
	return nil
}

// readConfigModeFlag reads and clears the one-shot portal-only flag.
func readConfigModeFlag(mode *kv.Namespace) bool {
	v, found, err := mode.GetU8(configModeKey)
	if err != nil {
		log.Printf("read %s: %v", configModeKey, err)
		return false
	}
	if !found || v == 0 {
		return false
	}
	if err := mode.PutU8(configModeKey, 0); err != nil {
		log.Printf("clear %s: %v", configModeKey, err)
	}
	return true
}
