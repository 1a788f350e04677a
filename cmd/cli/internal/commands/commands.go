package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/peerhub/cmd/cli/internal/config"
	"github.com/wolfeidau/peerhub/internal/client"
	"github.com/wolfeidau/peerhub/internal/logger"
)

// ErrSessionExpired is returned when the server rejected the stored session for good.
var ErrSessionExpired = errors.New(`session expired, please run "peerhub login"`)

// ErrNotLoggedIn is returned by commands that need a stored session when there is none.
var ErrNotLoggedIn = errors.New(`not logged in, please run "peerhub login"`)

type Globals struct {
	Debug   bool
	Version string

	Config     string
	Server     string
	Timeout    time.Duration
	SessionDir string
	CacheDir   string

	Stdout io.Writer
	Stdin  io.Reader

	stdin *bufio.Reader
}

// session bundles a client with a flag the expiry hook flips.
type session struct {
	*client.Client
	expired bool
}

// profile resolves flags over the config file over defaults.
func (g *Globals) profile() (config.Profile, error) {
	baseDir, err := config.HomeDir()
	if err != nil {
		return config.Profile{}, err
	}

	path := g.Config
	if path == "" {
		path = filepath.Join(baseDir, "config.yaml")
	}

	file, err := config.Load(path)
	if err != nil {
		return config.Profile{}, err
	}

	return file.Merge(config.Profile{
		Server:     g.Server,
		Timeout:    g.Timeout,
		SessionDir: g.SessionDir,
		CacheDir:   g.CacheDir,
	}, baseDir), nil
}

func (g *Globals) newSession() (*session, error) {
	level := zerolog.WarnLevel
	if g.Debug {
		level = zerolog.DebugLevel
	}
	log.Logger = logger.Setup(g.Debug).Level(level)

	p, err := g.profile()
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("server", p.Server).
		Str("session_dir", p.SessionDir).
		Dur("timeout", p.Timeout).
		Msg("Using profile")

	s := &session{}
	c, err := client.New(client.Config{
		ServerURL:        p.Server,
		Timeout:          p.Timeout,
		SessionDir:       p.SessionDir,
		CacheDir:         p.CacheDir,
		OnSessionExpired: func() { s.expired = true },
	})
	if err != nil {
		return nil, err
	}
	s.Client = c

	return s, nil
}

func (g *Globals) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(g.Stdout, format, args...)
}

// readLine reads one trimmed line from stdin, used for prompts.
func (g *Globals) readLine(prompt string) (string, error) {
	g.printf("%s: ", prompt)

	if g.stdin == nil {
		g.stdin = bufio.NewReader(g.Stdin)
	}

	line, err := g.stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(prompt), err)
	}

	return strings.TrimSpace(line), nil
}
