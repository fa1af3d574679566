// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package listener consumes control commands from the store's pub/sub
// channels and applies them to the device network.
package listener

import (
	"context"
	"strings"

	"github.com/soothill/zwave-redis-bridge/pkg/errors"
	"github.com/soothill/zwave-redis-bridge/pkg/interfaces"
	"github.com/soothill/zwave-redis-bridge/pkg/keys"
	"github.com/soothill/zwave-redis-bridge/pkg/logger"
	"github.com/soothill/zwave-redis-bridge/pkg/metrics"
	"github.com/soothill/zwave-redis-bridge/zwave"
)

// ExitWord on the control channel ends the listener.
const ExitWord = "exit"

// Command is a parsed command message: home:node:arg, all hex except the
// text argument.
type Command struct {
	HomeID zwave.HomeID
	NodeID zwave.NodeID
	Level  uint8
	Text   string
}

// Parse splits msg on colons. Fields that are missing, malformed or out of
// range parse as zero; Text is the raw third field and stops at the next
// colon.
func Parse(msg string) Command {
	fields := strings.Split(msg, ":")
	text := field(fields, 2)
	return Command{
		HomeID: zwave.HomeID(parseHex32(field(fields, 0))),
		NodeID: zwave.NodeID(parseHex8(field(fields, 1))),
		Level:  parseHex8(text),
		Text:   text,
	}
}

func field(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}

func parseHex8(s string) uint8 {
	v, err := keys.ParseHex8(trimHex(s))
	if err != nil {
		return 0
	}
	return v
}

func parseHex32(s string) uint32 {
	v, err := keys.ParseHex32(trimHex(s))
	if err != nil {
		return 0
	}
	return v
}

func trimHex(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}

// HomeSource reports the network the process is attached to.
type HomeSource interface {
	HomeID() zwave.HomeID
}

type handlerFunc func(l *Listener, home zwave.HomeID, cmd Command, payload string) error

var handlers = map[string]handlerFunc{
	keys.ChannelTurnOnNode: func(l *Listener, home zwave.HomeID, cmd Command, _ string) error {
		logger.Info().Str("home_id", keys.Hex32(uint32(home))).Uint8("node_id", uint8(cmd.NodeID)).Msg("Turning node on")
		return l.ctrl.SetNodeOn(home, cmd.NodeID)
	},
	keys.ChannelTurnOffNode: func(l *Listener, home zwave.HomeID, cmd Command, _ string) error {
		logger.Info().Str("home_id", keys.Hex32(uint32(home))).Uint8("node_id", uint8(cmd.NodeID)).Msg("Turning node off")
		return l.ctrl.SetNodeOff(home, cmd.NodeID)
	},
	keys.ChannelSetNodeLevel: func(l *Listener, home zwave.HomeID, cmd Command, _ string) error {
		logger.Info().Str("home_id", keys.Hex32(uint32(home))).Uint8("node_id", uint8(cmd.NodeID)).
			Str("level", keys.Hex8(cmd.Level)).Msg("Setting node level")
		return l.ctrl.SetNodeLevel(home, cmd.NodeID, cmd.Level)
	},
	keys.ChannelSetNodeName: func(l *Listener, home zwave.HomeID, cmd Command, _ string) error {
		logger.Info().Str("home_id", keys.Hex32(uint32(home))).Uint8("node_id", uint8(cmd.NodeID)).
			Str("name", cmd.Text).Msg("Setting node name")
		return l.ctrl.SetNodeName(home, cmd.NodeID, cmd.Text)
	},
	keys.ChannelSetNodeLocation: func(l *Listener, home zwave.HomeID, cmd Command, _ string) error {
		logger.Info().Str("home_id", keys.Hex32(uint32(home))).Uint8("node_id", uint8(cmd.NodeID)).
			Str("location", cmd.Text).Msg("Setting node location")
		return l.ctrl.SetNodeLocation(home, cmd.NodeID, cmd.Text)
	},
	keys.ChannelControl: func(_ *Listener, _ zwave.HomeID, cmd Command, payload string) error {
		if strings.TrimSpace(payload) == ExitWord || cmd.Text == ExitWord {
			return errors.ErrListenerExit
		}
		logger.Warn().Str("payload", payload).Msg("Unknown control word")
		return nil
	},
}

// Listener applies command messages to the network the dispatcher reports.
type Listener struct {
	sub      interfaces.Subscriber
	ctrl     zwave.Controller
	home     HomeSource
	channels []string
}

// New creates a listener on the fixed command channel set.
func New(sub interfaces.Subscriber, ctrl zwave.Controller, home HomeSource) *Listener {
	return &Listener{
		sub:      sub,
		ctrl:     ctrl,
		home:     home,
		channels: keys.CommandChannels(),
	}
}

// Run subscribes and applies messages until the exit control word has been
// received and every channel is unsubscribed, in which case it returns nil.
// It returns ctx's error if ctx ends first.
func (l *Listener) Run(ctx context.Context) error {
	sub, err := l.sub.Subscribe(ctx, l.channels...)
	if err != nil {
		return err
	}
	defer sub.Close()

	exiting := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-sub.Events():
			if !ok {
				if exiting {
					return nil
				}
				return errors.NewNetworkError("subscribe", "", errors.ErrNotConnected)
			}

			switch ev.Kind {
			case interfaces.KindSubscribe:
				logger.Info().Str("channel", ev.Channel).Int("subscriptions", ev.Count).Msg("Subscribed")

			case interfaces.KindUnsubscribe:
				logger.Info().Str("channel", ev.Channel).Int("subscriptions", ev.Count).Msg("Unsubscribed")
				if exiting && ev.Count == 0 {
					return nil
				}

			case interfaces.KindMessage:
				if exiting {
					continue
				}
				if err := l.handle(ev.Channel, ev.Payload); errors.Is(err, errors.ErrListenerExit) {
					logger.Info().Msg("Exit requested, unsubscribing")
					exiting = true
					if err := sub.Unsubscribe(ctx); err != nil {
						return err
					}
				}
			}
		}
	}
}

func (l *Listener) handle(channel, payload string) error {
	metrics.CommandsTotal.WithLabelValues(channel).Inc()
	logger.Debug().Str("channel", channel).Str("payload", payload).Msg("Command received")

	h, ok := handlers[channel]
	if !ok {
		return nil
	}

	cmd := Parse(payload)
	home := l.home.HomeID()
	if channel != keys.ChannelControl && cmd.HomeID != home {
		logger.Warn().
			Str("channel", channel).
			Str("home_id", keys.Hex32(uint32(home))).
			Str("requested_home_id", keys.Hex32(uint32(cmd.HomeID))).
			Msg("Command names another network, applying to the active one")
	}

	err := h(l, home, cmd, payload)
	if err != nil && !errors.Is(err, errors.ErrListenerExit) {
		metrics.CommandErrors.WithLabelValues(channel).Inc()
		cerr := errors.NewCommandError(channel, "apply", err)
		logger.Error().Err(cerr).Uint8("node_id", uint8(cmd.NodeID)).Msg("Command failed")
		return cerr
	}
	return err
}
