package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/cosmichat/voicemesh/internal/adapters/rtc"
	"github.com/cosmichat/voicemesh/internal/client"
	"github.com/cosmichat/voicemesh/internal/config"
	"github.com/cosmichat/voicemesh/internal/core"
	"github.com/cosmichat/voicemesh/internal/domain"
	"github.com/cosmichat/voicemesh/internal/media"
	"github.com/cosmichat/voicemesh/internal/mesh"
)

func main() {
	var (
		channelFlag = flag.String("channel", "voice-lounge", "channel id to join")
		userFlag    = flag.String("user", "", "user id (random when empty)")
		videoFlag   = flag.Bool("video", false, "join with camera enabled")
		serverFlag  = flag.String("server", "", "server base url (overrides config)")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	serverURL := cfg.Client.ServerURL
	if *serverFlag != "" {
		serverURL = *serverFlag
	}

	self := domain.UserID(*userFlag)
	if self == "" {
		self = domain.UserID(uuid.NewString())
	}
	channel := domain.ChannelID(*channelFlag)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	local := media.NewLocalMedia()
	roster := client.NewRoster(serverURL, string(self))
	remote := media.NewRemoteActivity(cfg.Client.SpeakingHold)
	remote.OnChange = func(peer domain.UserID, speaking bool) {
		log.Info().Str("module", "client").Str("peer", string(peer)).Bool("speaking", speaking).Msg("remote activity")
	}

	detector := media.NewDetector(cfg.Client.SpeakingThreshold, cfg.Client.SpeakingHold, func(speaking bool) {
		log.Info().Str("module", "client").Bool("speaking", speaking).Msg("local activity")
	})

	g, ctx := errgroup.WithContext(ctx)

	// The signal link and the coordinator reference each other; the handler
	// closure resolves coord lazily, before any frame can arrive.
	var coord *mesh.Coordinator
	sig, err := client.NewSignal(serverURL, self, func(f core.Frame) { coord.HandleFrame(f) })
	if err != nil {
		log.Fatal().Err(err).Msg("bad server url")
	}

	coord = mesh.New(mesh.Options{
		Self:               self,
		Channel:            channel,
		WantVideo:          *videoFlag,
		NegotiationTimeout: cfg.Client.NegotiationTimeout,
		CandidateTTL:       cfg.Client.CandidateTTL,
		OnPeerFailed: func(peer domain.UserID, err error) {
			log.Warn().Err(err).Str("module", "client").Str("peer", string(peer)).Msg("peer unreachable")
			remote.Forget(peer)
		},
		OnRemoteTrack: func(peer domain.UserID, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			go remote.Watch(ctx, peer, track)
		},
		OnStateChange: func(state mesh.ChannelState) {
			log.Info().Str("module", "client").Str("state", state.String()).Msg("channel state")
			if state != mesh.ChannelActive {
				return
			}
			track, ok := local.AudioTrack()
			if !ok {
				return
			}
			g.Go(func() error {
				return detector.Run(ctx, track.NewReader(false))
			})
		},
	}, roster, sig, rtc.Dialer(cfg.ICEServers, local.Tracks), local)

	g.Go(func() error { return sig.Run(ctx) })
	g.Go(func() error {
		defer cancel()
		defer sig.Close()
		return coord.Run(ctx)
	})
	go prompt(ctx, cancel, coord, local)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, client.ErrSignalClosed) {
		log.Fatal().Err(err).Msg("client exited")
	}
	log.Info().Msg("client exited cleanly")
}

// prompt is a minimal interactive shell for exercising the call controls.
func prompt(ctx context.Context, cancel context.CancelFunc, coord *mesh.Coordinator, local *media.LocalMedia) {
	sc := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: /mute /unmute /video on|off /peers /quit")
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "/mute":
			coord.SetMuted(true)
		case "/unmute":
			coord.SetMuted(false)
		case "/video":
			if len(fields) != 2 {
				fmt.Println("usage: /video on|off")
				continue
			}
			if err := coord.SetVideo(fields[1] == "on"); err != nil {
				fmt.Println("video:", err)
			}
		case "/peers":
			for _, p := range coord.Snapshot() {
				fmt.Printf("%s  role=%s  state=%s\n", p.Remote, p.Role, p.State)
			}
			fmt.Printf("muted=%v video=%v\n", local.Muted(), local.VideoEnabled())
		case "/quit":
			coord.Leave()
			cancel()
			return
		default:
			fmt.Println("commands: /mute /unmute /video on|off /peers /quit")
		}
	}
}
