package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/adapters/azure"
	"github.com/satriahrh/voicebridge/adapters/broker"
	"github.com/satriahrh/voicebridge/adapters/llm"
	"github.com/satriahrh/voicebridge/adapters/portaudio"
	"github.com/satriahrh/voicebridge/adapters/realtime"
	"github.com/satriahrh/voicebridge/adapters/realtime/webrtc"
	"github.com/satriahrh/voicebridge/adapters/weather"
	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/domain/repositories"
	"github.com/satriahrh/voicebridge/internal/audio"
	"github.com/satriahrh/voicebridge/internal/auth"
	"github.com/satriahrh/voicebridge/internal/config"
	"github.com/satriahrh/voicebridge/internal/tools"
	"github.com/satriahrh/voicebridge/usecase"
)

const (
	captureRate          = 48000
	captureFramesPerBuf  = 1024
	playbackFramesPerBuf = 512
	authTimeout          = 15 * time.Second
)

// Transport modes.
const (
	modeDirect = "direct"
	modeRelay  = "relay"
	modeWebRTC = "webrtc"
)

type runOptions struct {
	transport string
	server    string
	token     string
	envFile   string
	reconnect bool
	debug     bool
}

var opts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a voice conversation",
	Args:  cobra.NoArgs,
	RunE:  runTalk,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.transport, "transport", modeDirect, "direct, relay or webrtc")
	flags.StringVar(&opts.server, "server", "http://localhost:8080", "voice server base url (relay and webrtc)")
	flags.StringVar(&opts.token, "token", "", "voice server bearer token (default: minted from JWT_SECRET)")
	flags.StringVar(&opts.envFile, "env-file", "", "env file to load instead of .env")
	flags.BoolVar(&opts.reconnect, "reconnect", false, "re-dial after the link drops")
	flags.BoolVar(&opts.debug, "debug", false, "verbose logging")
	rootCmd.AddCommand(runCmd)
}

func envFiles() []string {
	if opts.envFile == "" {
		return nil
	}
	return []string{opts.envFile}
}

func runTalk(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(opts.debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(envFiles()...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	factory, err := transportFactory(opts, cfg, logger)
	if err != nil {
		return err
	}
	var transport repositories.Transport
	if opts.reconnect {
		transport = realtime.NewReconnecting(factory, realtime.ReconnectConfig{}, logger)
	} else {
		transport = factory()
	}

	sys, err := portaudio.NewSystem(logger)
	if err != nil {
		return err
	}
	defer sys.Close()

	sink, err := sys.NewSink(entities.ProviderAudioFormat.SampleRate, playbackFramesPerBuf)
	if err != nil {
		return err
	}
	defer sink.Close()

	capture := audio.NewCapture(sys.NewSource(captureRate, captureFramesPerBuf), audio.CaptureConfig{}, logger)
	playback := audio.NewPlayback(sink, audio.PlaybackConfig{WriteSize: playbackFramesPerBuf}, logger)

	svc := usecase.NewConversationService(transport, capture, playback, registry, usecase.ConversationConfig{
		Session:     cfg.Azure.SessionConfig(nil),
		ToolTimeout: cfg.ToolTimeout,
	}, logger)

	out := newPrinter(cmd.OutOrStdout())
	unsubscribe := svc.History().Subscribe(func() {
		out.transcript(svc.History().Messages(false))
	})
	defer unsubscribe()

	ended := make(chan struct{})
	var endOnce sync.Once
	svc.Observe(func(s usecase.Snapshot) {
		out.status(s)
		if s.Conn.Terminal() {
			endOnce.Do(func() { close(ended) })
		}
	})

	fmt.Fprintf(cmd.ErrOrStderr(), "Connecting over %s with tools %s. Press Ctrl+C to stop.\n",
		opts.transport, strings.Join(registry.Names(), ", "))
	if err := svc.Start(ctx); err != nil {
		svc.Stop()
		return err
	}

	select {
	case <-ctx.Done():
	case <-ended:
	}
	stopErr := svc.Stop()
	if snap := svc.Snapshot(); snap.Err != nil {
		return snap.Err
	}
	return stopErr
}

func buildRegistry(ctx context.Context, cfg config.Config, logger *zap.Logger) (*tools.Registry, error) {
	deps := tools.Dependencies{
		Weather: weather.NewOpenMeteo(weather.OpenMeteoConfig{}, logger),
	}
	if cfg.GeminiConfigured() {
		expert, err := llm.NewGeminiExpert(ctx, cfg.Gemini, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create expert tool: %w", err)
		}
		deps.Expert = expert
	}
	return tools.NewDefaultRegistry(deps)
}

// transportFactory returns a constructor so a reconnecting transport can
// build a fresh link per attempt.
func transportFactory(o runOptions, cfg config.Config, logger *zap.Logger) (func() repositories.Transport, error) {
	switch o.transport {
	case modeDirect:
		if err := azure.ValidateConfig(cfg.Azure); err != nil {
			return nil, fmt.Errorf("direct transport needs Azure settings: %w", err)
		}
		authorizer, err := azure.NewAuthorizer(cfg.Azure)
		if err != nil {
			return nil, err
		}
		endpoint := cfg.Azure.RealtimeURL()
		return func() repositories.Transport {
			header := http.Header{}
			ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
			defer cancel()
			if err := authorizer.Apply(ctx, header); err != nil {
				logger.Warn("Failed to authorize realtime connection", zap.Error(err))
			}
			return realtime.NewWebSocketTransport(realtime.WebSocketConfig{URL: endpoint, Header: header}, logger)
		}, nil

	case modeRelay:
		endpoint, err := relayURL(o.server)
		if err != nil {
			return nil, err
		}
		token, err := bearerToken(o.token, cfg)
		if err != nil {
			return nil, err
		}
		header := http.Header{}
		header.Set("Authorization", "Bearer "+token)
		return func() repositories.Transport {
			return realtime.NewWebSocketTransport(realtime.WebSocketConfig{URL: endpoint, Header: header}, logger)
		}, nil

	case modeWebRTC:
		token, err := bearerToken(o.token, cfg)
		if err != nil && !errors.Is(err, auth.ErrMissingSecret) {
			return nil, err
		}
		credentials := broker.NewClient(o.server, token, logger)
		return func() repositories.Transport {
			return webrtc.NewTransport(webrtc.Config{Credentials: credentials}, logger)
		}, nil

	default:
		return nil, fmt.Errorf("unknown transport %q: want direct, relay or webrtc", o.transport)
	}
}

// relayURL turns the server base url into its websocket endpoint.
func relayURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid server url %q", server)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// bearerToken prefers an explicit token and otherwise signs one locally.
func bearerToken(explicit string, cfg config.Config) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	signer, err := auth.NewSigner(cfg.JWTSecret, 0)
	if err != nil {
		return "", fmt.Errorf("pass --token or set JWT_SECRET: %w", err)
	}
	return signer.GenerateClientToken("talk-cli")
}
