// Bookmark Sync Client
//
// Mirrors a sub-tree of a bookmark server into a local directory. The server
// is the source of truth.
//
// Sub-commands:
//
//	bookmark-sync login            Log in and save a token
//	bookmark-sync logout           Delete the saved token
//	bookmark-sync once [flags]     Run a single reconciliation pass
//	bookmark-sync run [flags]      Reconcile periodically and on server changes (default)
//	bookmark-sync tree [flags]     Print the server or local hierarchy
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/dgzargo/BookmarkStorage/internal/backend"
	"github.com/dgzargo/BookmarkStorage/internal/config"
	"github.com/dgzargo/BookmarkStorage/internal/logging"
	"github.com/dgzargo/BookmarkStorage/internal/metrics"
	"github.com/dgzargo/BookmarkStorage/internal/reconcile"
	"github.com/dgzargo/BookmarkStorage/internal/storage/local"
	"github.com/dgzargo/BookmarkStorage/internal/storage/remote"
	"github.com/dgzargo/BookmarkStorage/pkg/client"
	"github.com/dgzargo/BookmarkStorage/pkg/models"
	"github.com/dgzargo/BookmarkStorage/pkg/protocol"
)

func main() {
	cmd, args := "run", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "login":
		err = cmdLogin(args)
	case "logout":
		err = cmdLogout(args)
	case "once":
		err = cmdOnce(args)
	case "run":
		err = cmdRun(args)
	case "tree":
		err = cmdTree(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q. Use login, logout, once, run or tree.\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// syncFlags registers the flags shared by once, run and tree on top of the
// environment defaults.
func syncFlags(fs *flag.FlagSet, cfg *config.Client) {
	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Server URL")
	fs.StringVar(&cfg.SyncRoot, "root", cfg.SyncRoot, "Server sub-tree to mirror")
	fs.StringVar(&cfg.TargetPath, "target", cfg.TargetPath, "Local directory to keep in sync (required)")
	fs.StringVar(&cfg.Token, "token", cfg.Token, "JWT authentication token")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
}

func setup(cfg *config.Client) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
}

// open builds the server side (source) and the local side (target).
func open(ctx context.Context, cfg *config.Client) (src, dst *backend.Backend, err error) {
	remoteCfg := remote.Config{
		BaseURL: cfg.ServerURL,
		Root:    cfg.SyncRoot,
		Token:   cfg.Token,
	}
	if remoteCfg.Token == "" && cfg.Username != "" {
		remoteCfg.Username, remoteCfg.Password = cfg.Username, cfg.Password
	}
	if remoteCfg.Token == "" && remoteCfg.Username == "" {
		// Auto-load from token file
		tf, err := client.LoadToken(client.TokenFilePath())
		if err != nil {
			return nil, nil, errors.New("no credentials: use -token, SYNC_TOKEN, SYNC_USERNAME or run 'login'")
		}
		if tf.IsExpired(0) {
			return nil, nil, errors.New("saved token has expired, run 'login' again")
		}
		remoteCfg.Token = tf.Token
		logging.Info("using saved token", zap.String("user", tf.Username), zap.String("server", tf.Server))
	}

	opts := backend.Options{Logger: logging.L()}
	raw, _ := json.Marshal(remoteCfg)
	src, err = backend.New(ctx, "remote", raw, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("server backend: %w", err)
	}
	raw, _ = json.Marshal(local.Config{RootPath: cfg.TargetPath, CreateDirs: true})
	dst, err = backend.New(ctx, "local", raw, opts)
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("local backend: %w", err)
	}
	return src, dst, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func cmdOnce(args []string) error {
	cfg := config.LoadClient()
	fs := flag.NewFlagSet("once", flag.ExitOnError)
	syncFlags(fs, cfg)
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Parallel deletes or saves")
	fs.Parse(args)
	if err := setup(cfg); err != nil {
		return err
	}
	defer logging.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	src, dst, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer src.Close()
	defer dst.Close()

	loop := reconcile.New(src.Service, dst.Service, reconcile.Options{
		Concurrency: cfg.Concurrency,
		Logger:      logging.L(),
	})
	res, err := loop.UpdateState(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d of %d obsolete, saved %d of %d new bookmarks.\n", res.Deleted, res.Obsolete, res.Saved, res.New)
	return nil
}

func cmdRun(args []string) error {
	cfg := config.LoadClient()
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	syncFlags(fs, cfg)
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Delay between passes")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Parallel deletes or saves")
	fs.BoolVar(&cfg.Watch, "watch", cfg.Watch, "Start a pass as soon as the server reports a change")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Metrics listen address (empty to disable)")
	fs.Parse(args)
	if err := setup(cfg); err != nil {
		return err
	}
	defer logging.Sync()

	logging.Info("Bookmark Sync Client starting...",
		zap.String("server", cfg.ServerURL),
		zap.String("root", cfg.SyncRoot),
		zap.String("target", cfg.TargetPath),
		zap.Duration("interval", cfg.Interval))

	ctx, cancel := signalContext()
	defer cancel()

	src, dst, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer src.Close()
	defer dst.Close()

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
		defer metricsServer.Close()
	}

	loop := reconcile.New(src.Service, dst.Service, reconcile.Options{
		Delay:       cfg.Interval,
		Concurrency: cfg.Concurrency,
		Logger:      logging.L(),
	})

	if cfg.Watch {
		changes := src.Watcher.Subscribe()
		if err := src.Watcher.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		go func() {
			for c := range changes {
				logging.Debug("server change", zap.String("path", c.Path))
				loop.Trigger()
			}
		}()
	}

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info("stopped")
	return nil
}

func cmdTree(args []string) error {
	cfg := config.LoadClient()
	fs := flag.NewFlagSet("tree", flag.ExitOnError)
	syncFlags(fs, cfg)
	side := fs.String("side", "server", "Hierarchy to print: server or local")
	fs.Parse(args)
	if err := setup(cfg); err != nil {
		return err
	}
	defer logging.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	src, dst, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer src.Close()
	defer dst.Close()

	b := src
	if *side == "local" {
		b = dst
	}
	root, err := b.Service.GetHierarchy(ctx)
	if err != nil {
		return err
	}
	if root == nil {
		root = models.NewFolder("")
	}
	data, err := protocol.MarshalHierarchy(root)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func cmdLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	serverURL := fs.String("server", config.LoadClient().ServerURL, "Server URL")
	fs.Parse(args)

	c, err := client.New(client.Config{BaseURL: *serverURL, Timeout: 30 * time.Second})
	if err != nil {
		return err
	}

	// Interactive username/password login
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Username: ")
	username, _ := reader.ReadString('\n')
	username = strings.TrimSpace(username)

	fmt.Print("Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}

	token, err := c.Login(context.Background(), username, string(passwordBytes))
	if err != nil {
		return err
	}

	tf := &client.TokenFile{
		Token:     token,
		ExpiresAt: client.TokenExpiry(token),
		Server:    *serverURL,
		Username:  username,
	}
	if err := client.SaveToken(client.TokenFilePath(), tf); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save token: %v\n", err)
	}
	fmt.Printf("Login successful! Logged in as %s. Token saved to %s\n", username, client.TokenFilePath())
	return nil
}

func cmdLogout(args []string) error {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	fs.Parse(args)

	if err := client.DeleteToken(client.TokenFilePath()); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("No saved token found.")
			return nil
		}
		return err
	}
	fmt.Println("Logged out successfully.")
	return nil
}
