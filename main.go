package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gitrelay/internal"
	"gitrelay/pkg/chat"
	"gitrelay/webhook"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ruleEngine, err := internal.NewRuleEngine(config.Rules, internal.NewLogger("rules"))
	if err != nil {
		logger.Fatalf("compile rules: %v", err)
	}

	dedup := internal.NewDedupStore(time.Duration(config.Pipeline.DedupTTLMS) * time.Millisecond)
	queue := internal.NewDeliveryQueue(config.Pipeline.QueueCapacity, internal.NewLogger("queue"))

	var exporter *internal.Exporter
	if config.Export.Enabled {
		exporter, err = internal.NewExporter(config.Export)
		if err != nil {
			logger.Fatalf("exporter: %v", err)
		}
		defer exporter.Close()
	}

	sender, err := chat.NewDiscordSender(
		config.Discord.Token,
		chat.WithBaseURL(config.Discord.BaseURL),
		chat.WithTimeout(time.Duration(config.Discord.TimeoutMS)*time.Millisecond),
	)
	if err != nil {
		logger.Fatalf("discord sender: %v", err)
	}

	dispatcher := internal.NewDispatcher(queue, sender, config.Discord.ChannelID, internal.DispatchConfig{
		MaxAttempts: config.Pipeline.MaxAttempts,
		BaseBackoff: time.Duration(config.Pipeline.BaseBackoffMS) * time.Millisecond,
		MaxBackoff:  time.Duration(config.Pipeline.MaxBackoffMS) * time.Millisecond,
		DrainGrace:  time.Duration(config.Pipeline.DrainGraceMS) * time.Millisecond,
	}, internal.NewLogger("dispatch"))

	handler, err := webhook.NewGitHubHandler(config.GitHub, webhook.Options{
		Normalizer: internal.NewNormalizer(internal.PushMode(config.Pipeline.PushMode)),
		Rules:      ruleEngine,
		Dedup:      dedup,
		Queue:      queue,
		Exporter:   exporter,
		Logger:     internal.NewLogger("webhook"),
	})
	if err != nil {
		logger.Fatalf("github handler: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle(config.GitHub.Path, http.MaxBytesHandler(handler, config.Server.MaxBodyBytes))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	if config.Server.MetricsEnabled {
		mux.Handle(config.Server.MetricsPath, expvar.Handler())
	}

	pipelineCtx, stopPipeline := context.WithCancel(context.Background())
	go dedup.Run(pipelineCtx)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(pipelineCtx)
	}()

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           internal.NewRateLimitHandler(mux, config.Server.RateLimitRPS, config.Server.RateLimitBurst, time.Minute),
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("webhook endpoint enabled on %s%s", addr, config.GitHub.Path)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown

	// Ingestion stops first so no new work arrives, then the dispatcher
	// gets its drain grace period.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}

	stopPipeline()
	<-dispatcherDone
}
