package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/agora/internal/client"
	"github.com/matheus3301/agora/internal/instance"
	"github.com/spf13/cobra"
)

type globals struct {
	instance string
	as       string
	jsonOut  bool
	timeout  time.Duration
}

func newRootCommand() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "agoractl",
		Short:         "Send, read and watch conversations on an agorad instance",
		Example:       "agoractl --as alice send dm bob \"is the bike still for sale?\"",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&g.instance, "instance", "", "instance name (overrides config default)")
	cmd.PersistentFlags().StringVar(&g.as, "as", os.Getenv("AGORA_USER"), "acting user or company id (default $AGORA_USER)")
	cmd.PersistentFlags().BoolVar(&g.jsonOut, "json", false, "output in JSON format")
	cmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "per-request timeout")

	cmd.AddCommand(
		newSendCommand(g),
		newShowCommand(g),
		newWatchCommand(g),
		newReadCommand(g),
		newInboxCommand(g),
		newNotificationsCommand(g),
	)
	return cmd
}

// connect resolves the instance and dials its socket.
func (g *globals) connect() (*client.Client, error) {
	name := instance.Resolve(g.instance)
	if err := instance.ValidateName(name); err != nil {
		return nil, err
	}
	c, err := client.Dial(instance.SocketPath(name))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon for instance %q: %w", name, err)
	}
	return c, nil
}

func (g *globals) user() (string, error) {
	if g.as == "" {
		return "", fmt.Errorf("no acting user: pass --as or set AGORA_USER")
	}
	return g.as, nil
}

func (g *globals) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.timeout)
}

func (g *globals) output(v any, text func()) {
	if g.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	text()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
