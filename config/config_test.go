package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
)

func parseMap(t *testing.T, m map[string]string) *Config {
	t.Helper()
	cfg, err := parse(env.Options{Environment: m})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := parseMap(t, map[string]string{})
	if cfg.Platform != PlatformBilibili {
		t.Errorf("Platform = %q", cfg.Platform)
	}
	if !cfg.Danmaku.Enable || cfg.Danmaku.MinInterval != 3*time.Second || cfg.Danmaku.ChunkDelay != 1500*time.Millisecond {
		t.Errorf("Danmaku = %+v", cfg.Danmaku)
	}
	if !cfg.Danmaku.OnlyWelcomeOnce || cfg.Danmaku.ScheduledInterval != 10*time.Minute {
		t.Errorf("Danmaku = %+v", cfg.Danmaku)
	}
	if cfg.Welcome.MinFollowers != 10000 || cfg.Welcome.MinMedalLevel != 5 {
		t.Errorf("Welcome = %+v", cfg.Welcome)
	}
	if !cfg.Turing.Enable || cfg.Turing.Timeout != 8*time.Second || cfg.Turing.APIURL == "" {
		t.Errorf("Turing = %+v", cfg.Turing)
	}
	if cfg.DailyCron != "0 0 * * *" || cfg.HTTPAddr != ":8080" || cfg.LookupTimeout != 5*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.JournalEnable {
		t.Error("journal enabled by default")
	}
}

func TestListsAreCompacted(t *testing.T) {
	cfg := parseMap(t, map[string]string{
		"TURING_API_KEYS":          " a, ,b ,c",
		"DANMAKU_SCHEDULED_NOTICE": "关注主播不迷路,,点点小心心",
		"ROOM_PLATFORM":            " Twitch ",
	})
	if strings.Join(cfg.Turing.APIKeys, "|") != "a|b|c" {
		t.Errorf("APIKeys = %q", cfg.Turing.APIKeys)
	}
	if len(cfg.Danmaku.ScheduledNotice) != 2 {
		t.Errorf("ScheduledNotice = %q", cfg.Danmaku.ScheduledNotice)
	}
	if cfg.Platform != PlatformTwitch {
		t.Errorf("Platform = %q", cfg.Platform)
	}
}

func TestInvalidDuration(t *testing.T) {
	if _, err := parse(env.Options{Environment: map[string]string{"DANMAKU_MIN_INTERVAL": "soon"}}); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name: "bilibili ok",
			env: map[string]string{
				"BILIBILI_ROOM_ID": "732", "BILIBILI_SESSDATA": "s", "BILIBILI_JCT": "j", "TURING_API_KEYS": "k",
			},
		},
		{
			name:    "bilibili missing room",
			env:     map[string]string{"BILIBILI_SESSDATA": "s", "BILIBILI_JCT": "j", "TURING_API_KEYS": "k"},
			wantErr: "BILIBILI_ROOM_ID",
		},
		{
			name:    "bilibili read only needs no cookies",
			env:     map[string]string{"BILIBILI_ROOM_ID": "732", "DANMAKU_ENABLE": "false", "TURING_ENABLE": "false"},
			wantErr: "",
		},
		{
			name:    "ai enabled without keys",
			env:     map[string]string{"BILIBILI_ROOM_ID": "732", "BILIBILI_SESSDATA": "s", "BILIBILI_JCT": "j"},
			wantErr: "TURING_API_KEYS",
		},
		{
			name: "twitch missing token",
			env: map[string]string{
				"ROOM_PLATFORM": "twitch", "TWITCH_CHANNEL": "chan", "TWITCH_BOT_USERNAME": "bot", "TURING_ENABLE": "false",
			},
			wantErr: "TWITCH_OAUTH_TOKEN",
		},
		{
			name:    "unknown platform",
			env:     map[string]string{"ROOM_PLATFORM": "douyu", "TURING_ENABLE": "false"},
			wantErr: "douyu",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseMap(t, tt.env).Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFileOverridesEnvironment(t *testing.T) {
	t.Setenv("DANMAKU_MIN_INTERVAL", "1s")
	t.Setenv("TURING_QUESTION_PREFIX", "")
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("DANMAKU_MIN_INTERVAL=7s\nTURING_QUESTION_PREFIX=#问\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Danmaku.MinInterval != 7*time.Second {
		t.Errorf("MinInterval = %v, want 7s from file", cfg.Danmaku.MinInterval)
	}
	if cfg.Turing.QuestionPrefix != "#问" {
		t.Errorf("QuestionPrefix = %q", cfg.Turing.QuestionPrefix)
	}
}

func TestLoadFileMissingIsFine(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("LoadFile(missing) = %v", err)
	}
}

func TestHelixReady(t *testing.T) {
	if (Twitch{ClientID: "id"}).HelixReady() {
		t.Error("HelixReady without secret")
	}
	if !(Twitch{ClientID: "id", ClientSecret: "s"}).HelixReady() {
		t.Error("HelixReady with both")
	}
}
