package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"xiaoma/internal/assistant"
	"xiaoma/internal/audio"
	"xiaoma/internal/bus"
	"xiaoma/internal/chat"
	"xiaoma/internal/config"
	"xiaoma/internal/ipc"
	"xiaoma/internal/mic"
	"xiaoma/internal/playback"
	"xiaoma/internal/prompt"
	"xiaoma/internal/proxy"
	"xiaoma/internal/search"
	"xiaoma/internal/stt"
	"xiaoma/internal/stt/remote"
	"xiaoma/internal/stt/whisper"
	"xiaoma/internal/transcript"
	"xiaoma/internal/tts"
	"xiaoma/internal/tts/espeak"
	"xiaoma/internal/wake"
	"xiaoma/pkg/audioconv"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	proxyAddr := cli.StringP("proxy", "p", "", "Socks proxy address (overrides XIAOMA_PROXY)")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	askFile := cli.StringP("ask", "a", "", "Answer a single question read from an audio file and exit")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevelMap[*logLevel],
		TimeFormat: time.TimeOnly,
	})))

	log.Info("Booting up")

	godotenv.Load(*envFile)
	cfg, err := config.Load()
	if err != nil {
		log.Error("Bad configuration", "err", err)
		os.Exit(1)
	}
	if *proxyAddr != "" {
		cfg.Control.Proxy = *proxyAddr
	}
	if cfg.Chat.APIKey == "" {
		log.Error("XIAOMA_CHAT_API_KEY not set")
		os.Exit(1)
	}

	log.Debug("Loaded config")

	httpClient, err := proxy.NewClient(cfg.Control.Proxy, 2*time.Minute)
	if err != nil {
		log.Error("Failed to dial socks proxy", "proxy", cfg.Control.Proxy, "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recognizer, wakeRecognizer, closeRecognizer, err := newRecognizer(cfg, httpClient)
	if err != nil {
		log.Error("Failed to init speech recognition", "backend", cfg.STT.Backend, "err", err)
		os.Exit(1)
	}
	defer closeRecognizer()

	log.Debug("Loaded recognizer", "backend", cfg.STT.Backend)

	player := playback.New(cfg.TTS.SampleRate)
	voice := newSpeaker(cfg, httpClient, player)

	var searcher prompt.Searcher
	if cfg.Search.APIKey != "" {
		searcher = search.NewSerper(search.SerperConfig{
			URL:     cfg.Search.URL,
			APIKey:  cfg.Search.APIKey,
			Country: cfg.Search.Country,
			Limit:   cfg.Search.Limit,
		}, httpClient)
	} else {
		log.Warn("No search key, answering without web context")
	}

	triggers := cfg.Assistant.Triggers
	if triggers == nil {
		triggers = prompt.Triggers(time.Now())
	}
	builder := prompt.NewBuilder(searcher, prompt.Config{
		SystemPrompt:  cfg.Assistant.SystemPrompt,
		Triggers:      triggers,
		SearchTimeout: cfg.Search.Timeout,
	})

	model := chat.NewClient(chat.Config{
		BaseURL:     cfg.Chat.BaseURL,
		APIKey:      cfg.Chat.APIKey,
		Model:       cfg.Chat.Model,
		MaxTokens:   int64(cfg.Chat.MaxTokens),
		Temperature: cfg.Chat.Temperature,
		Timeout:     cfg.Chat.Timeout,
	}, httpClient)

	conversation, err := transcript.Open(cfg.Transcript.Path, cfg.Transcript.Echo)
	if err != nil {
		log.Error("Failed to open transcript", "path", cfg.Transcript.Path, "err", err)
		os.Exit(1)
	}
	defer conversation.Close()

	sinks := []assistant.TurnSink{conversation}

	var hub *bus.Bus
	if cfg.Control.BusURL != "" {
		hub, err = bus.Dial(ctx, cfg.Control.BusURL, "xiaoma")
		if err != nil {
			log.Warn("Bus unavailable, turns stay local", "err", err)
		} else {
			defer hub.Close()
			sinks = append(sinks, hub)
		}
	}

	acfg := assistant.Config{
		FailureFormat:    cfg.Assistant.FailureFormat,
		RecognizeTimeout: cfg.STT.Timeout,
	}

	if *askFile != "" {
		code := ask(ctx, *askFile, cfg, assistant.Deps{
			Recognizer: recognizer,
			Builder:    builder,
			Chat:       model,
			Speaker:    voice,
			Sinks:      sinks,
		}, acfg)
		conversation.Close()
		closeRecognizer()
		os.Exit(code)
	}

	src, err := mic.Open(cfg.Audio.SampleRate, cfg.Audio.FrameSize)
	if err != nil {
		log.Error("Failed to init audio", "err", err)
		os.Exit(1)
	}
	defer src.Close()

	gate := audio.NewGate(src, audio.GateConfig{
		Threshold:  cfg.Audio.Threshold,
		Floor:      cfg.Audio.Floor,
		Multiplier: cfg.Audio.Multiplier,
	})

	log.Info("Calibrating, keep quiet", "for", cfg.Audio.Calibration)
	if _, err := gate.Calibrate(ctx, cfg.Audio.Calibration); err != nil {
		log.Warn("Calibration failed, using default threshold", "threshold", gate.Threshold(), "err", err)
	}

	recorder := audio.NewRecorder(gate, audio.RecorderConfig{
		MaxSilence:  cfg.Audio.MaxSilence,
		MaxDuration: cfg.Audio.MaxDuration,
		Pause:       cfg.Audio.Pause,
	})

	trigger := make(chan struct{}, 1)
	detector := wake.NewDetector(gate, wakeRecognizer, voice, wake.Config{
		Phrase:      cfg.Wake.Phrase,
		Ack:         cfg.Wake.Ack,
		Window:      cfg.Wake.Window,
		Timeout:     cfg.Wake.Timeout,
		SkipSilence: cfg.Wake.SkipSilence,
	}).WithTrigger(trigger)
	if cfg.Wake.Chime != "" {
		detector.WithChime(func(ctx context.Context) error {
			return player.PlayFile(ctx, cfg.Wake.Chime)
		})
	}

	a := assistant.New(assistant.Deps{
		Wake:       detector,
		Recorder:   recorder,
		Recognizer: recognizer,
		Builder:    builder,
		Chat:       model,
		Speaker:    voice,
		Sinks:      sinks,
	}, acfg)

	if hub != nil {
		a.OnState(hub.PublishState)
		go hub.Listen(ctx, trigger)
	}

	ctl, err := ipc.StartServer(cfg.Control.Socket, func(msg ipc.ControlMessage) ipc.Reply {
		switch msg.Cmd {
		case ipc.CmdWake:
			select {
			case trigger <- struct{}{}:
			default:
			}
			return ipc.Reply{OK: true, State: string(a.State())}
		case ipc.CmdStatus:
			reply := ipc.Reply{OK: true, State: string(a.State())}
			if err := a.LastError(); err != nil {
				reply.Last = err.Error()
			}
			return reply
		case ipc.CmdQuit:
			stop()
			return ipc.Reply{OK: true, State: string(a.State())}
		default:
			log.Warn("Unknown command", "cmd", msg.Cmd)
			return ipc.Reply{Error: "unknown command: " + msg.Cmd}
		}
	})
	if err != nil {
		log.Error("Failed ipc server", "err", err)
		os.Exit(1)
	}
	defer ctl.Close()

	log.Info("Boot up - successful", "wake", cfg.Wake.Phrase, "threshold", gate.Threshold())

	if err := a.Run(ctx); err != nil {
		log.Error("Assistant stopped", "err", err)
	}
}

// newRecognizer returns the recognizer for questions and one biased towards
// the wake phrase for wake windows. Both share a single backend.
func newRecognizer(cfg config.Config, httpClient *http.Client) (stt.Recognizer, stt.Recognizer, func(), error) {
	if cfg.STT.Backend == config.STTHTTP {
		r := remote.NewHTTPRecognizer(remote.HTTPConfig{
			BaseURL:  cfg.STT.BaseURL,
			APIKey:   cfg.STT.APIKey,
			Model:    cfg.STT.Model,
			Language: cfg.STT.Language,
		}, httpClient)
		return r, r.WithPrompt(cfg.Wake.Phrase), func() {}, nil
	}

	tr, err := whisper.NewTranscriber(cfg.STT.WhisperModel, whisper.Options{
		Language: cfg.STT.Language,
		Threads:  cfg.STT.Threads,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return tr, tr.WithPrompt(cfg.Wake.Phrase), func() { tr.Close() }, nil
}

// newSpeaker prefers the remote voice and falls back to espeak.
func newSpeaker(cfg config.Config, httpClient *http.Client, player *playback.Player) tts.Speaker {
	local := espeak.New(cfg.TTS.EspeakLanguage, cfg.TTS.EspeakRate)

	var s tts.Speaker = local
	if cfg.TTS.Backend == config.TTSHTTP {
		synth := tts.NewHTTPSynthesizer(tts.HTTPConfig{
			BaseURL: cfg.TTS.BaseURL,
			APIKey:  cfg.TTS.APIKey,
			Model:   cfg.TTS.Model,
			Voice:   cfg.TTS.Voice,
			Format:  cfg.TTS.Format,
		}, httpClient)
		s = tts.Fallback{tts.NewVoice(synth, player), local}
	}

	if cfg.Duck.Enabled {
		s = tts.WithDucking(s, audio.NewDucker(audio.Pactl{}, audio.DuckConfig{
			SelfNames: []string{"xiaoma", "espeak"},
			MinVolume: cfg.Duck.MinVolume,
			Factor:    cfg.Duck.Factor,
			Fade:      cfg.Duck.Fade,
		}))
	}

	return s
}

// fileRecorder hands out one pre-recorded utterance.
type fileRecorder struct {
	clip audio.Clip
}

func (r *fileRecorder) Record(context.Context) audio.Utterance {
	clip := r.clip
	r.clip = audio.Clip{}
	if clip.Empty() {
		return audio.Utterance{Outcome: audio.OutcomeNoInput}
	}
	return audio.Utterance{Clip: clip, Outcome: audio.OutcomeSpeech}
}

func ask(ctx context.Context, path string, cfg config.Config, deps assistant.Deps, acfg assistant.Config) int {
	pcm, err := audioconv.ConvertFile(ctx, path, audioconv.Options{
		SampleRate: cfg.Audio.SampleRate,
		MaxSamples: int(cfg.Audio.MaxDuration * time.Duration(cfg.Audio.SampleRate) / time.Second),
	})
	if err != nil {
		log.Error("Failed to read question", "path", path, "err", err)
		return 1
	}

	deps.Recorder = &fileRecorder{clip: audio.Clip{Samples: pcm.Samples, SampleRate: pcm.SampleRate}}

	outcome := assistant.New(deps, acfg).Turn(ctx)

	log.Info("Done", "outcome", outcome)
	if outcome == assistant.OutcomeAnswered {
		return 0
	}
	return 1
}
