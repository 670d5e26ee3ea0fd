package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/home-voice-lab/internal/config"
	"github.com/home-voice-lab/internal/eventproto"
	"github.com/home-voice-lab/internal/flags"
	"github.com/home-voice-lab/internal/logging"
	"github.com/home-voice-lab/internal/mediatrack"
	"github.com/home-voice-lab/internal/session"
	"github.com/home-voice-lab/internal/telemetry"
	"github.com/home-voice-lab/internal/upstream"
)

func main() {
	logging.Init()
	cfgPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logging.Errorw("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, "home-voice-lab")
	if err != nil {
		logging.Warnw("tracing setup failed; continuing without", "err", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = shutdownTracing(sctx)
		scancel()
	}()

	httpClient := &http.Client{Timeout: 60 * time.Second}
	sessCfg := session.ConfigFromEnv()

	var stt session.SpeechToText
	if cfg.Upstream.STTURL != "" {
		stt = &upstream.STTClient{
			URL:       cfg.Upstream.STTURL,
			Language:  cfg.Upstream.STTLanguage,
			TimeoutMs: sessCfg.STTTimeoutMs,
			Client:    httpClient,
		}
	}
	var tts session.TextToSpeech
	if cfg.Upstream.TTSURL != "" {
		tts = &upstream.TTSClient{
			URL:       cfg.Upstream.TTSURL,
			AuthToken: cfg.Upstream.TTSAuthToken,
			TimeoutMs: sessCfg.TTSTimeoutMs,
			Client:    httpClient,
		}
	}
	var dispatcher session.QueryDispatcher
	switch {
	case cfg.Upstream.MCPURL != "":
		d := upstream.NewMCPDispatcher(cfg.Upstream.MCPURL, cfg.Upstream.MCPTool, sessCfg.DispatcherTimeoutMs)
		defer d.Close()
		dispatcher = d
	case cfg.Upstream.DispatcherURL != "":
		dispatcher = &upstream.ChatDispatcher{
			URL:       cfg.Upstream.DispatcherURL,
			Model:     cfg.Upstream.DispatchModel,
			AuthToken: cfg.Upstream.DispatchToken,
			TimeoutMs: sessCfg.DispatcherTimeoutMs,
			Client:    httpClient,
		}
	default:
		logging.Errorw("no dispatcher configured; set DISPATCHER_URL or MCP_URL")
		os.Exit(1)
	}
	var wake session.WakeWordDetector
	if cfg.Upstream.WakeURL != "" {
		wake = &upstream.WakeClient{URL: cfg.Upstream.WakeURL, Client: httpClient}
	}

	var flagStore session.FeatureFlags
	switch {
	case cfg.Flags.PostgresDSN != "":
		pg, perr := flags.NewPGFetcher(ctx, cfg.Flags.PostgresDSN)
		if perr != nil {
			logging.Warnw("postgres flag store unavailable; follow-ups disabled", "err", perr)
		} else {
			defer pg.Close()
			store := flags.NewStore(pg, time.Duration(cfg.Flags.RefreshSec)*time.Second)
			defer store.Close()
			flagStore = store
		}
	case cfg.Flags.URL != "":
		store := flags.NewStore(&flags.HTTPFetcher{URL: cfg.Flags.URL}, time.Duration(cfg.Flags.RefreshSec)*time.Second)
		defer store.Close()
		flagStore = store
	}

	started := false
	if cfg.Listen != "" {
		srv := &eventproto.Server{
			Addr:       cfg.Listen,
			STT:        stt,
			TTS:        tts,
			Dispatcher: dispatcher,
			Wake:       wake,
			Flags:      flagStore,
			Config:     sessCfg,
		}
		if err := srv.Start(ctx); err != nil {
			logging.Errorw("event adapter failed to start", "err", err)
			os.Exit(1)
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = srv.Shutdown(sctx)
			scancel()
		}()
		started = true
	}
	if cfg.Discord.Token != "" {
		agent := &mediatrack.Agent{
			Token:      cfg.Discord.Token,
			GuildID:    cfg.Discord.GuildID,
			ChannelID:  cfg.Discord.ChannelID,
			STT:        stt,
			TTS:        tts,
			Dispatcher: dispatcher,
			Wake:       wake,
			Flags:      flagStore,
			Config:     sessCfg,
		}
		if err := agent.Start(ctx); err != nil {
			logging.Errorw("track adapter failed to start", "err", err)
			os.Exit(1)
		}
		defer agent.Stop()
		started = true
	}
	if !started {
		logging.Errorw("nothing to run; set LISTEN_ADDR and/or DISCORD_TOKEN")
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	logging.Infow("voiced running; press ctrl-c to exit")
	<-sig
	logging.Infow("shutting down")
}
