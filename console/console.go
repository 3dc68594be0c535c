// Package console reads operator input from the terminal. The reserved line
// "r" reloads configuration; anything else is said in the room.
package console

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/chzyer/readline"
)

// ReloadToken is the line that triggers a configuration reload.
const ReloadToken = "r"

// LineReader is the subset of *readline.Instance the console uses.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// Console dispatches input lines to Reload and Say.
type Console struct {
	Reader LineReader
	Reload func(ctx context.Context) error
	Say    func(ctx context.Context, text string)
}

// New opens an interactive readline prompt on the terminal.
func New(reload func(context.Context) error, say func(context.Context, string)) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, err
	}
	return &Console{Reader: rl, Reload: reload, Say: say}, nil
}

// Run reads lines until EOF, an interrupt on an empty line, or ctx is done.
func (c *Console) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		if err := c.Reader.Close(); err != nil {
			slog.Debug("console close", slog.Any("err", err))
		}
	})
	defer stop()

	for {
		line, err := c.Reader.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return
			}
			continue
		case errors.Is(err, io.EOF):
			return
		case err != nil:
			if ctx.Err() == nil {
				slog.Warn("console read failed", slog.Any("err", err))
			}
			return
		}
		c.handle(ctx, line)
	}
}

func (c *Console) handle(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	switch line {
	case "":
		return
	case ReloadToken:
		if err := c.Reload(ctx); err != nil {
			slog.Error("config reload failed", slog.Any("err", err))
			return
		}
		slog.Info("config reloaded")
	default:
		c.Say(ctx, line)
	}
}
