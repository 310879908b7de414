package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Tabletop/internal/adapters/relay"
	"github.com/dkeye/Tabletop/internal/adapters/rtc"
	"github.com/dkeye/Tabletop/internal/app/orch"
	"github.com/dkeye/Tabletop/internal/config"
	"github.com/dkeye/Tabletop/internal/core"
	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/dkeye/Tabletop/internal/game"
	"github.com/dkeye/Tabletop/internal/game/games"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.LoadPeer()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load peer config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	self := domain.Participant{
		ID:     domain.ParticipantID(cfg.ParticipantID),
		Name:   cfg.Name,
		Avatar: cfg.Avatar,
		Role:   domain.RoleGuest,
		Status: domain.StatusConnecting,
	}
	if err := self.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid participant")
	}

	catalog := games.Catalog()
	rules, err := catalog.New(cfg.GameType)
	if err != nil {
		log.Fatal().Err(err).Strs("known", catalog.Types()).Msg("unknown game")
	}

	endpoint, err := relayEndpoint(cfg.RelayURL, self.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("bad relay url")
	}

	client := relay.NewClient(relay.Options{})
	defer client.Close()

	factory := rtc.Factory(nil, rtc.ConfigWithICEServers(cfg.ICEServers))
	coord := orch.New(self, client, factory, orch.Options{JoinTimeout: cfg.JoinTimeout})
	defer coord.Close()
	coord.Subscribe(logEvent)

	if err := client.Connect(ctx, endpoint); err != nil {
		coord.EnterLocalMode(err)
	}

	var snap domain.RoomSnapshot
	switch cfg.Action {
	case "create":
		snap, err = coord.CreateRoom(ctx, domain.RoomConfig{
			Name:       cfg.RoomName,
			MaxPlayers: cfg.MaxPlayers,
			IsPrivate:  cfg.Private,
			Password:   cfg.Password,
			GameType:   cfg.GameType,
		})
	case "join":
		snap, err = coord.JoinRoom(ctx, domain.RoomID(cfg.RoomID), cfg.Password)
	}
	if err != nil {
		log.Fatal().Err(err).Str("action", cfg.Action).Msg("room request failed")
	}
	log.Info().Str("room", string(snap.ID)).Str("host", string(snap.Host.ID)).Int("players", len(snap.Players)).Msg("in room")

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := runCommand(coord, rules, cfg.GameSettings(), line); quit {
				return
			}
		}
	}
}

func relayEndpoint(raw string, id domain.ParticipantID) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("participant", string(id))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// runCommand handles one console line:
//
//	start                  start the configured game (host only)
//	play <type> <json>     submit an action, e.g. play place {"x":7,"y":7}
//	undo                   take back your last action when the game allows it
//	say <text>             broadcast a chat message
//	room                   print the roster
//	leave                  leave the room and exit
func runCommand(coord *orch.Coordinator, rules game.Rules, settings game.Settings, line string) bool {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "":
	case "start":
		st, err := coord.StartGame(rules, settings)
		if err != nil {
			log.Error().Err(err).Msg("start")
			return false
		}
		log.Info().Str("game", st.GameType).Str("turn", string(st.CurrentPlayer())).Msg("game started")
	case "play":
		kind, raw, _ := strings.Cut(rest, " ")
		payload, err := rules.DecodePayload(game.ActionType(kind), json.RawMessage(raw))
		if err != nil {
			log.Error().Err(err).Msg("play")
			return false
		}
		if err := coord.SubmitAction(game.NewAction(coord.Self().ID, payload)); err != nil {
			log.Error().Err(err).Msg("play")
		}
	case "undo":
		if err := coord.Undo(); err != nil {
			log.Error().Err(err).Msg("undo")
		}
	case "say":
		msg, err := core.NewGameMessage(core.ChatMessage, coord.Self().ID, core.Chat{Text: rest})
		if err != nil {
			log.Error().Err(err).Msg("say")
			return false
		}
		n, err := coord.BroadcastGameMessage(msg)
		if err != nil {
			log.Error().Err(err).Msg("say")
			return false
		}
		log.Debug().Int("peers", n).Msg("chat sent")
	case "room":
		snap, ok := coord.Room()
		if !ok {
			fmt.Println("not in a room")
			return false
		}
		for _, p := range snap.Players {
			fmt.Printf("%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Role, p.Status)
		}
	case "leave":
		coord.LeaveRoom()
		return true
	default:
		log.Warn().Str("cmd", cmd).Msg("unknown command")
	}
	return false
}

func logEvent(ev orch.Event) {
	l := log.Info().Str("module", "peer").Str("event", string(ev.Type))
	if ev.Participant != nil {
		l = l.Str("participant", string(ev.Participant.ID))
	}
	if ev.Room != nil {
		l = l.Str("room", string(ev.Room.ID))
	}
	if ev.Err != nil {
		l = l.Err(ev.Err)
	}
	if m := ev.Message; m != nil {
		l = l.Str("type", string(m.Type)).Str("from", string(m.SenderID))
		if m.Type == core.ChatMessage {
			var chat core.Chat
			if json.Unmarshal(m.Data, &chat) == nil {
				l = l.Str("text", chat.Text)
			}
		}
	}
	l.Msg("room event")
}
