package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/onnwee/danmaku-reactor/bilibili"
	"github.com/onnwee/danmaku-reactor/config"
	"github.com/onnwee/danmaku-reactor/danmaku"
	"github.com/onnwee/danmaku-reactor/dispatch"
	"github.com/onnwee/danmaku-reactor/event"
	"github.com/onnwee/danmaku-reactor/twitch"
)

// source is a running room connection.
type source interface {
	Run(ctx context.Context, emit event.Emitter) error
}

// room bundles what a platform contributes to the bot. roster and profiles
// stay nil when the platform has no such API.
type room struct {
	id       int64
	live     bool
	source   source
	poster   danmaku.Poster
	roster   dispatch.RosterFetcher
	profiles dispatch.ProfileLookup
}

func openRoom(ctx context.Context, cfg *config.Config) (*room, error) {
	switch cfg.Platform {
	case config.PlatformBilibili:
		return openBilibili(ctx, cfg)
	case config.PlatformTwitch:
		return openTwitch(ctx, cfg), nil
	default:
		return nil, fmt.Errorf("unknown platform %q", cfg.Platform)
	}
}

// openBilibili resolves short room ids to the real one before anything
// posts to or subscribes to the room.
func openBilibili(ctx context.Context, cfg *config.Config) (*room, error) {
	client := &bilibili.Client{
		SESSDATA: cfg.Bilibili.SESSDATA,
		CSRF:     cfg.Bilibili.CSRF,
		RoomID:   cfg.Bilibili.RoomID,
	}
	lctx, cancel := context.WithTimeout(ctx, cfg.LookupTimeout)
	defer cancel()
	info, err := client.RoomInfo(lctx, cfg.Bilibili.RoomID)
	if err != nil {
		return nil, fmt.Errorf("resolve room %d: %w", cfg.Bilibili.RoomID, err)
	}
	client.RoomID = info.RoomID
	slog.Info("room resolved",
		slog.Int64("room_id", info.RoomID),
		slog.Int64("short_id", info.ShortID),
		slog.String("anchor", info.AnchorName),
		slog.String("title", info.Title),
		slog.Bool("live", info.Live))
	return &room{
		id:       info.RoomID,
		live:     info.Live,
		source:   &bilibili.Source{Client: client, RoomID: info.RoomID},
		poster:   client,
		roster:   client,
		profiles: client,
	}, nil
}

// openTwitch never fails: Helix lookups are best effort and chat works
// with the bot token alone.
func openTwitch(ctx context.Context, cfg *config.Config) *room {
	creds := twitch.Credentials{
		ClientID:     cfg.Twitch.ClientID,
		ClientSecret: cfg.Twitch.ClientSecret,
		AccessToken:  cfg.Twitch.OAuthToken,
		RefreshToken: cfg.Twitch.RefreshToken,
	}
	src := &twitch.Source{
		Channel:      cfg.Twitch.Channel,
		Username:     cfg.Twitch.BotUsername,
		Tokens:       creds.BotTokenSource(ctx),
		PollInterval: cfg.Twitch.PollInterval,
	}
	r := &room{source: src, poster: src}
	if !cfg.Twitch.HelixReady() {
		slog.Info("helix lookups disabled (missing TWITCH_CLIENT_ID/TWITCH_CLIENT_SECRET)")
		return r
	}

	helix := &twitch.HelixClient{Tokens: creds.AppTokenSource(ctx), ClientID: cfg.Twitch.ClientID}
	src.Helix = helix
	r.profiles = twitch.Lookup{Helix: helix}

	lctx, cancel := context.WithTimeout(ctx, cfg.LookupTimeout)
	defer cancel()
	if id, err := helix.GetUserID(lctx, cfg.Twitch.Channel); err != nil {
		slog.Warn("channel id lookup failed", slog.String("channel", cfg.Twitch.Channel), slog.Any("err", err))
	} else if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		r.id = n
	}
	if live, err := helix.IsLive(lctx, cfg.Twitch.Channel); err != nil {
		slog.Warn("live status lookup failed", slog.String("channel", cfg.Twitch.Channel), slog.Any("err", err))
	} else {
		r.live = live
	}
	slog.Info("channel resolved", slog.String("channel", cfg.Twitch.Channel), slog.Int64("room_id", r.id), slog.Bool("live", r.live))
	return r
}

func dispatchOptions(cfg *config.Config, roomID int64) dispatch.Options {
	return dispatch.Options{
		RoomID:         roomID,
		QuestionPrefix: cfg.Turing.QuestionPrefix,
		AnswerPrefix:   cfg.Turing.AnswerPrefix,
		Fallback:       cfg.Turing.Fallback,
		ChunkDelay:     cfg.Danmaku.ChunkDelay,
		MinFollowers:   cfg.Welcome.MinFollowers,
		MinMedalLevel:  cfg.Welcome.MinMedalLevel,
		Notices:        cfg.Danmaku.ScheduledNotice,
		LookupTimeout:  cfg.LookupTimeout,
	}
}

func templates(cfg *config.Config) danmaku.Templates {
	return danmaku.Templates{
		WelcomeEnter:    cfg.Danmaku.WelcomeEnter,
		WelcomeGuard:    cfg.Danmaku.WelcomeGuard,
		ThanksGift:      cfg.Danmaku.ThanksGift,
		ThanksGuard:     cfg.Danmaku.ThanksGuard,
		ThanksSuperChat: cfg.Danmaku.ThanksSuperChat,
	}
}

func runtimeConfig(cfg *config.Config, roomID int64) dispatch.RuntimeConfig {
	return dispatch.RuntimeConfig{
		Options:       dispatchOptions(cfg, roomID),
		SenderEnabled: cfg.Danmaku.Enable,
		MinInterval:   cfg.Danmaku.MinInterval,
		Templates:     templates(cfg),
		AIEnabled:     cfg.Turing.Enable,
		Dedupe:        cfg.Danmaku.OnlyWelcomeOnce,
	}
}
