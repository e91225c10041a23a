package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nawkwoo/voice-chat/internal/config"
	"github.com/nawkwoo/voice-chat/internal/conn"
	"github.com/nawkwoo/voice-chat/internal/dispatch"
	"github.com/nawkwoo/voice-chat/internal/httpapi"
	"github.com/nawkwoo/voice-chat/internal/observability"
	"github.com/nawkwoo/voice-chat/internal/pipeline"
	"github.com/nawkwoo/voice-chat/internal/prompt"
	"github.com/nawkwoo/voice-chat/internal/speech"
	"github.com/nawkwoo/voice-chat/internal/storage"
	"github.com/nawkwoo/voice-chat/internal/vector"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	window := observability.NewStageWindow(256)

	ctx := context.Background()
	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer store.Close()

	embedder := vector.NewEmbedder(cfg.EmbeddingURL, cfg.VectorEmbeddingDim)
	index, err := vector.NewIndex(ctx, cfg.DatabaseURL, embedder)
	if err != nil {
		log.Fatalf("vector index init failed: %v", err)
	}
	defer index.Close()

	var (
		transcriber speech.Transcriber
		generator   speech.Generator
		synthesizer speech.Synthesizer
	)

	urlsConfigured := cfg.STTURL != "" && cfg.LLMURL != "" && cfg.TTSURL != ""
	useHTTP := cfg.SpeechProvider == "http" || (cfg.SpeechProvider == "auto" && urlsConfigured)
	if useHTTP {
		p, err := speech.NewHTTPProvider(speech.HTTPConfig{
			STTURL:  cfg.STTURL,
			LLMURL:  cfg.LLMURL,
			TTSURL:  cfg.TTSURL,
			Timeout: cfg.SpeechCallTimeout,
		})
		if err != nil {
			log.Fatalf("speech provider init failed: %v", err)
		}
		transcriber, generator, synthesizer = p, p, p
		log.Printf("speech provider: http")
	} else {
		p := speech.NewMockProvider(cfg.AudioSampleRate)
		transcriber, generator, synthesizer = p, p, p
		log.Printf("speech provider: mock")
	}

	if cfg.SpeechSerialize {
		gate := speech.NewGate()
		transcriber = speech.NewSerialTranscriber(gate, transcriber)
		generator = speech.NewSerialGenerator(gate, generator)
		synthesizer = speech.NewSerialSynthesizer(gate, synthesizer)
		log.Printf("speech calls serialized behind a single gate")
	}

	assembler := prompt.NewAssembler(store, index)
	assembler.RecencyLimit = cfg.ContextRecentLimit
	assembler.TopK = cfg.ContextTopK
	assembler.MinScore = cfg.ContextMinScore
	assembler.SessionScoped = cfg.ContextSessionScoped

	orchestrator := &pipeline.Orchestrator{
		Store:       store,
		Index:       index,
		Assembler:   assembler,
		Transcriber: transcriber,
		Generator:   generator,
		Synthesizer: synthesizer,
		Metrics:     metrics,
		Window:      window,
		Language:    cfg.STTLanguage,
		SampleRate:  cfg.AudioSampleRate,
		CallTimeout: cfg.SpeechCallTimeout,
	}

	registry := conn.NewRegistry(func(userID, sessionID string) {
		if err := store.EndSession(context.Background(), sessionID); err != nil {
			log.Printf("finalizing session %s for user %s failed: %v", sessionID, userID, err)
			return
		}
		log.Printf("session %s ended for user %s", sessionID, userID)
	})

	dispatcher := &dispatch.Dispatcher{
		Pipeline: orchestrator,
		Store:    store,
		Index:    index,
		Metrics:  metrics,
	}

	api := httpapi.New(cfg, store, index, registry, dispatcher, synthesizer, metrics, window)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
