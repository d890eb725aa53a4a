// Command taskgate-cli reconciles a locally cached task state against a
// running task-gate server, the way the landing page does in a browser.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/neftit/taskgate/internal/config"
	"github.com/neftit/taskgate/internal/logger"
	"github.com/neftit/taskgate/internal/reconciler"
	"github.com/neftit/taskgate/internal/statestore"
)

const usage = `usage: taskgate-cli [-config file] <command> [flags]

commands:
  status   [-ref CODE]                      load and print the reconciled view
  message  -type TYPE -user ID [flags]      apply an OAuth popup message
  message  -json '{"type":...}'             apply a raw popup message
`

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadClientConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Debug {
		if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := reconciler.New(reconciler.NewClient(cfg.ServerURL, cfg.Timeout), reconciler.NewFileStore(cfg.StateFile))

	var view reconciler.View
	switch flag.Arg(0) {
	case "status":
		view, err = status(ctx, r, flag.Args()[1:])
	case "message":
		view, err = message(ctx, r, flag.Args()[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}

	var authErr *reconciler.AuthError
	if errors.As(err, &authErr) {
		// the handshake failed, the cached view is still printed
		fmt.Fprintf(os.Stderr, "authentication failed: %s\n", authErr.Reason)
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(view); encErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", encErr)
		os.Exit(1)
	}
	if err != nil {
		os.Exit(1)
	}
}

func status(ctx context.Context, r *reconciler.Reconciler, args []string) (reconciler.View, error) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	ref := fs.String("ref", "", "Referral code from the landing URL")
	_ = fs.Parse(args)

	return r.Load(ctx, *ref)
}

func message(ctx context.Context, r *reconciler.Reconciler, args []string) (reconciler.View, error) {
	fs := flag.NewFlagSet("message", flag.ExitOnError)
	raw := fs.String("json", "", "Raw popup message")
	msgType := fs.String("type", "", "Message type, e.g. DISCORD_AUTH_SUCCESS")
	userID := fs.String("user", "", "Provider user id")
	username := fs.String("username", "", "Provider username")
	email := fs.String("email", "", "Provider email")
	restored := fs.Bool("restored", false, "The identity restored an existing record")
	reason := fs.String("error", "", "Error reported by the popup")
	_ = fs.Parse(args)

	msg := statestore.Result{
		Type:     *msgType,
		UserID:   *userID,
		Username: *username,
		Email:    *email,
		Restored: *restored,
		Error:    *reason,
	}
	if *raw != "" {
		msg = statestore.Result{}
		if err := json.Unmarshal([]byte(*raw), &msg); err != nil {
			return reconciler.View{}, fmt.Errorf("invalid message: %w", err)
		}
	}
	if msg.Type == "" {
		return reconciler.View{}, errors.New("message type is required")
	}
	return r.HandleMessage(ctx, msg)
}
