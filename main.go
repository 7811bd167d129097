package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/n0madic/go-devcodec/internal/codec"
	"github.com/n0madic/go-devcodec/internal/config"
	"github.com/n0madic/go-devcodec/internal/pipeline"
	"github.com/n0madic/go-devcodec/internal/server"
	"github.com/n0madic/go-devcodec/internal/session"
	"github.com/n0madic/go-devcodec/internal/settings"
	"github.com/n0madic/go-devcodec/internal/tools"
	"github.com/n0madic/go-devcodec/internal/watch"
)

const commands = "Commands: convert, watch, detect, tools, verifier, serve"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: devcodec <command> [flags]")
		fmt.Fprintln(os.Stderr, commands)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "convert":
		os.Exit(cmdConvert(os.Args[2:]))
	case "watch":
		os.Exit(cmdWatch(os.Args[2:]))
	case "detect":
		os.Exit(cmdDetect(os.Args[2:]))
	case "tools":
		os.Exit(cmdTools(os.Args[2:]))
	case "verifier":
		os.Exit(cmdVerifier(os.Args[2:]))
	case "serve":
		os.Exit(cmdServe(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		fmt.Fprintln(os.Stderr, commands)
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// modeFlags are the options shared by convert and watch.
type modeFlags struct {
	tool      string
	direction string
	decode    bool
	encoding  string
	noSave    bool
}

func (m *modeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&m.tool, "tool", "", "Tool name (pkce|saml); detected from input when empty")
	fs.StringVar(&m.direction, "direction", "", "Conversion direction, e.g. Encode, Decode, VerifierToChallenge")
	fs.BoolVar(&m.decode, "decode", false, "Shorthand for the tool's reverse direction")
	fs.StringVar(&m.encoding, "encoding", "", "Text encoding for SAML encode (UTF-8|ASCII)")
	fs.BoolVar(&m.noSave, "no-save", false, "Do not remember the mode in the settings file")
}

// resolveMode applies the flags on top of current. The bool reports whether
// anything was overridden.
func (m *modeFlags) resolveMode(tool tools.Tool, current tools.Mode) (tools.Mode, bool, error) {
	mode := current
	switch {
	case m.direction != "":
		d, err := tools.ParseDirection(tool, m.direction)
		if err != nil {
			return mode, false, err
		}
		mode.Direction = d
	case m.decode:
		dirs := tool.Directions()
		mode.Direction = dirs[len(dirs)-1]
	}
	if m.encoding != "" {
		enc, err := codec.ParseTextEncoding(m.encoding)
		if err != nil {
			return mode, false, err
		}
		mode.Encoding = enc
	}
	return mode, mode != current, nil
}

func openStore(cfg *config.Config, noSave bool) settings.Store {
	if noSave {
		return settings.NewMemoryStore()
	}
	store, err := settings.Open(cfg.SettingsPath)
	if err != nil {
		slog.Warn("settings unavailable; using defaults", "path", cfg.SettingsPath, "error", err)
		return settings.NewMemoryStore()
	}
	return store
}

// newSession builds a session for the flags. sample is used for tool
// detection when -tool is empty.
func newSession(cfg *config.Config, reg *tools.Registry, mf *modeFlags, sample string) (*session.Session, error) {
	var tool tools.Tool
	if mf.tool != "" {
		t, err := reg.Get(mf.tool)
		if err != nil {
			return nil, err
		}
		tool = t
	} else {
		t, err := detectTool(reg, sample)
		if err != nil {
			return nil, err
		}
		tool = t
		slog.Info("tool detected", "tool", tool.Name())
	}

	pool := pipeline.NewPool(cfg.Workers)
	s := session.New(tool, session.Options{Store: openStore(cfg, mf.noSave), Pool: pool})

	mode, changed, err := mf.resolveMode(tool, s.Mode())
	if err != nil {
		s.Close(context.Background()) //nolint:errcheck
		return nil, err
	}
	if changed {
		if err := s.SetMode(mode); err != nil {
			s.Close(context.Background()) //nolint:errcheck
			return nil, err
		}
	}
	return s, nil
}

// detectTool picks the most specific tool for sample. PKCE accepts any text,
// so a PKCE-only match is too weak to act on without -tool.
func detectTool(reg *tools.Registry, sample string) (tools.Tool, error) {
	found := reg.Detect(sample)
	if len(found) == 0 {
		return nil, errors.New("no tool can handle this input; pass -tool")
	}
	// The most specific match is listed last.
	tool := found[len(found)-1]
	if tool.Name() == "pkce" {
		return nil, errors.New("input was not recognized; pass -tool pkce or -tool saml")
	}
	return tool, nil
}

func cmdConvert(args []string) int {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	cfg := config.DefaultFromEnv()
	var mf modeFlags
	mf.register(fs)
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")
	fs.Parse(args)
	setupLogging(cfg.Verbose)

	reg := tools.NewDefaultRegistry(cfg.MaxInflateBytes)
	ctx := context.Background()

	if fs.NArg() == 0 && stdinIsTerminal() {
		if mf.tool == "" {
			slog.Error("interactive mode needs -tool")
			return 1
		}
		return convertInteractive(ctx, cfg, reg, &mf)
	}

	input := strings.Join(fs.Args(), " ")
	if fs.NArg() == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			slog.Error("failed to read stdin", "error", err)
			return 1
		}
		input = string(data)
	}

	s, err := newSession(cfg, reg, &mf, input)
	if err != nil {
		slog.Error("cannot start conversion", "error", err)
		return 1
	}
	defer s.Close(ctx) //nolint:errcheck
	warnVerifier(s, input)

	// A mode switch may have queued work of its own; let it settle first.
	if err := s.Wait(ctx); err != nil {
		slog.Error("conversion failed", "error", err)
		return 1
	}
	if err := s.SetInput(input); err != nil {
		slog.Error("conversion failed", "error", err)
		return 1
	}
	if err := s.Wait(ctx); err != nil {
		slog.Error("conversion failed", "error", err)
		return 1
	}

	out := s.Output()
	if !out.Succeeded {
		if errors.Is(out.Err, codec.ErrEmptyInput) {
			return 0
		}
		fmt.Fprintln(os.Stderr, out.Text)
		return 1
	}
	fmt.Println(out.Text)
	return 0
}

func convertInteractive(ctx context.Context, cfg *config.Config, reg *tools.Registry, mf *modeFlags) int {
	s, err := newSession(cfg, reg, mf, "")
	if err != nil {
		slog.Error("cannot start session", "error", err)
		return 1
	}
	defer s.Close(ctx) //nolint:errcheck
	if err := s.Wait(ctx); err != nil {
		return 1
	}

	s.OnOutputChanged(printOutput)
	mode := s.Mode()
	fmt.Fprintf(os.Stderr, "%s (%s). One input per line, Ctrl-D to quit.\n", s.Tool().DisplayName(), mode)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), int(cfg.MaxInflateBytes)+1)
	for scanner.Scan() {
		line := scanner.Text()
		warnVerifier(s, line)
		if err := s.SetInput(line); err != nil {
			slog.Error("conversion failed", "error", err)
			return 1
		}
		if err := s.Wait(ctx); err != nil {
			return 1
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("failed to read stdin", "error", err)
		return 1
	}
	return 0
}

func printOutput(o session.Output) {
	switch {
	case errors.Is(o.Err, codec.ErrEmptyInput):
	case o.Err != nil:
		fmt.Fprintf(os.Stderr, "error: %s\n", o.Text)
	default:
		fmt.Println(o.Text)
	}
}

func warnVerifier(s *session.Session, input string) {
	if s.Tool().Name() != "pkce" || s.Mode().Direction != tools.VerifierToChallenge {
		return
	}
	if v := strings.TrimSpace(input); v != "" && !codec.ValidVerifier(v) {
		slog.Warn("input is not a valid RFC 7636 code verifier; converting anyway",
			"length", len(v), "min", codec.MinVerifierLength, "max", codec.MaxVerifierLength)
	}
}

func cmdWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	cfg := config.DefaultFromEnv()
	var mf modeFlags
	mf.register(fs)
	file := fs.String("file", "", "File to watch")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")
	fs.Parse(args)
	setupLogging(cfg.Verbose)

	if *file == "" || mf.tool == "" {
		slog.Error("watch needs -tool and -file")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := tools.NewDefaultRegistry(cfg.MaxInflateBytes)
	s, err := newSession(cfg, reg, &mf, "")
	if err != nil {
		slog.Error("cannot start session", "error", err)
		return 1
	}
	defer s.Close(context.Background()) //nolint:errcheck
	if err := s.Wait(ctx); err != nil {
		return 1
	}
	s.OnOutputChanged(func(o session.Output) {
		fmt.Printf("----- #%d %s\n", o.Seq, time.Now().Format(time.TimeOnly))
		printOutput(o)
	})

	w, err := watch.New(*file, s)
	if err != nil {
		slog.Error("cannot watch file", "error", err)
		return 1
	}
	if err := w.Run(ctx); err != nil {
		slog.Error("watch failed", "error", err)
		return 1
	}
	return 0
}

func cmdDetect(args []string) int {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	cfg := config.DefaultFromEnv()
	fs.Parse(args)
	setupLogging(cfg.Verbose)

	input := strings.Join(fs.Args(), " ")
	if fs.NArg() == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			slog.Error("failed to read stdin", "error", err)
			return 1
		}
		input = string(data)
	}

	found := tools.NewDefaultRegistry(cfg.MaxInflateBytes).Detect(input)
	if len(found) == 0 {
		fmt.Fprintln(os.Stderr, "No tool can handle this input.")
		return 1
	}
	rows := make([][]string, 0, len(found))
	for _, t := range found {
		rows = append(rows, []string{t.Name(), t.DisplayName(), t.Group()})
	}
	fmt.Println(renderTable([]string{"Tool", "Name", "Group"}, rows))
	return 0
}

func cmdTools(args []string) int {
	fs := flag.NewFlagSet("tools", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output JSON")
	fs.Parse(args)

	cfg := config.DefaultFromEnv()
	list := tools.NewDefaultRegistry(cfg.MaxInflateBytes).List()

	if *jsonOut {
		type entry struct {
			Name        string   `json:"name"`
			DisplayName string   `json:"display_name"`
			Group       string   `json:"group"`
			Directions  []string `json:"directions"`
			Keywords    []string `json:"keywords"`
		}
		out := make([]entry, 0, len(list))
		for _, t := range list {
			out = append(out, entry{t.Name(), t.DisplayName(), t.Group(), directionNames(t), t.Keywords()})
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	rows := make([][]string, 0, len(list))
	for _, t := range list {
		rows = append(rows, []string{
			t.Name(),
			t.DisplayName(),
			t.Group(),
			strings.Join(directionNames(t), ", "),
			t.DefaultMode().String(),
		})
	}
	fmt.Println(renderTable([]string{"Tool", "Name", "Group", "Directions", "Default"}, rows))
	return 0
}

func directionNames(t tools.Tool) []string {
	out := make([]string, 0, len(t.Directions()))
	for _, d := range t.Directions() {
		out = append(out, string(d))
	}
	return out
}

func cmdVerifier(args []string) int {
	fs := flag.NewFlagSet("verifier", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output JSON")
	fs.Parse(args)

	verifier := codec.GenerateVerifier()
	challenge, err := codec.DerivePKCEChallenge(verifier)
	if err != nil {
		slog.Error("failed to derive challenge", "error", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(map[string]string{
			"code_verifier":         verifier,
			"code_challenge":        challenge,
			"code_challenge_method": "S256",
		}, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	fmt.Println(renderTable([]string{"Field", "Value"}, [][]string{
		{"code_verifier", verifier},
		{"code_challenge", challenge},
		{"code_challenge_method", "S256"},
	}))
	return 0
}

func cmdServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfg := config.DefaultFromEnv()

	fs.StringVar(&cfg.Host, "host", cfg.Host, "Bind host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Listen port")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")
	fs.StringVar(&cfg.AccessToken, "access-token", cfg.AccessToken, "Require this bearer token on /v1/ routes")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent conversions (0 = GOMAXPROCS)")
	fs.Parse(args)
	setupLogging(cfg.Verbose)

	srv := server.New(cfg, nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx) //nolint:errcheck
	}()

	slog.Info("devcodec starting", "addr", srv.Addr(), "workers", srv.Pool.Size())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		return 1
	}
	return 0
}
