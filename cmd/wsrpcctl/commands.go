package main

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/desertbit/grumble"
	"github.com/jedib0t/go-pretty/table"
	"github.com/lightforgemedia/go-wsrpc/pkg/client"
	"github.com/lightforgemedia/go-wsrpc/pkg/envelope"
	"github.com/lightforgemedia/go-wsrpc/pkg/transport"
	"github.com/rs/zerolog/log"
)

// AddCommands registers all shell commands.
func AddCommands(app *grumble.App) {
	app.AddCommand(&grumble.Command{
		Name: "add",
		Help: "connect a new client and register it under an id",
		Args: func(a *grumble.Args) {
			a.String("id", "client id")
			a.String("url", "peer address, ws:// or wss://")
		},
		Run: func(c *grumble.Context) error {
			_ = addClient(c.Args.String("id"), c.Args.String("url"))
			return nil
		},
	})

	app.AddCommand(&grumble.Command{
		Name:    "remove",
		Aliases: []string{"rm"},
		Help:    "disconnect and unregister clients",
		Args: func(a *grumble.Args) {
			a.StringList("ids", "client ids")
		},
		Completer: CompleteClients,
		Run: func(c *grumble.Context) error {
			for _, id := range c.Args.StringList("ids") {
				mgr.RemoveClient(id)
				log.Info().Str("client", id).Msg("Removed")
			}
			return nil
		},
	})

	app.AddCommand(&grumble.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Help:    "list managed clients",
		Run: func(c *grumble.Context) error {
			if mgr.Len() == 0 {
				log.Info().Msg("No clients")
				return nil
			}
			c.App.Println(RenderClientTable(snapshot()))
			return nil
		},
	})

	app.AddCommand(&grumble.Command{
		Name: "send",
		Help: "send a raw JSON call and wait for the response",
		Args: func(a *grumble.Args) {
			a.String("id", "client id")
			a.String("payload", "JSON payload carrying a correlation id")
		},
		Flags: func(f *grumble.Flags) {
			f.Duration("t", "timeout", 0, "request timeout, 0 uses the configured default")
		},
		Completer: CompleteClients,
		Run: func(c *grumble.Context) error {
			id := c.Args.String("id")
			resp, err := mgr.Send(context.Background(), id, []byte(c.Args.String("payload")), c.Flags.Duration("timeout"))
			if err != nil {
				log.Error().Err(err).Str("client", id).Msg("Call failed")
				return nil
			}
			c.App.Println(string(resp))
			return nil
		},
	})

	app.AddCommand(&grumble.Command{
		Name: "call",
		Help: "build a request envelope for a method and wait for its data",
		Args: func(a *grumble.Args) {
			a.String("id", "client id")
			a.Int("method", "method code")
			a.String("data", "JSON request data", grumble.Default("{}"))
		},
		Flags: func(f *grumble.Flags) {
			f.Duration("t", "timeout", 0, "request timeout, 0 uses the configured default")
		},
		Completer: CompleteClients,
		Run: func(c *grumble.Context) error {
			id := c.Args.String("id")
			cl, err := mgr.Client(id)
			if err != nil {
				log.Error().Err(err).Msg("Call failed")
				return nil
			}
			timeout := c.Flags.Duration("timeout")
			if timeout <= 0 {
				timeout = requestTimeout
			}
			data := json.RawMessage(c.Args.String("data"))
			if !json.Valid(data) {
				log.Error().Str("data", string(data)).Msg("Data is not valid JSON")
				return nil
			}
			start := time.Now()
			out, err := envelope.Call[json.RawMessage](context.Background(), cl.Send, c.Args.Int("method"), data, timeout)
			if err != nil {
				log.Error().Err(err).Str("client", id).Msg("Call failed")
				return nil
			}
			log.Info().Str("client", id).Dur("took", time.Since(start)).Msg("Response")
			c.App.Println(string(*out))
			return nil
		},
	})

	app.AddCommand(&grumble.Command{
		Name: "post",
		Help: "send a raw JSON message without waiting for an answer",
		Args: func(a *grumble.Args) {
			a.String("id", "client id")
			a.String("payload", "JSON payload")
		},
		Completer: CompleteClients,
		Run: func(c *grumble.Context) error {
			id := c.Args.String("id")
			cl, err := mgr.Client(id)
			if err == nil {
				err = cl.Post(transport.KindText, []byte(c.Args.String("payload")))
			}
			if err != nil {
				log.Error().Err(err).Str("client", id).Msg("Post failed")
			}
			return nil
		},
	})

	app.AddCommand(&grumble.Command{
		Name: "reconnect",
		Help: "disconnect a client and connect it again",
		Args: func(a *grumble.Args) {
			a.String("id", "client id")
		},
		Completer: CompleteClients,
		Run: func(c *grumble.Context) error {
			id := c.Args.String("id")
			if err := mgr.Reconnect(context.Background(), id); err != nil {
				log.Error().Err(err).Str("client", id).Msg("Reconnect failed")
			}
			return nil
		},
	})
}

func snapshot() []*client.Client {
	var clients []*client.Client
	mgr.IterateClients(func(c *client.Client) bool {
		clients = append(clients, c)
		return true
	})
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID() < clients[j].ID() })
	return clients
}

// RenderClientTable formats the clients and their counters into a table.
func RenderClientTable(clients []*client.Client) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{
		"ID",
		"URL",
		"State",
		"Pending",
		"Reports",
		"Orphans",
		"Discarded",
	})
	for _, c := range clients {
		st := c.Stats()
		t.AppendRow(table.Row{
			c.ID(),
			c.URL(),
			c.State().String(),
			st.Pending,
			st.Reports,
			st.Orphans,
			st.Discarded,
		})
	}
	return t.Render()
}

// CompleteClients completes managed client ids.
func CompleteClients(prefix string, _ []string) []string {
	if mgr == nil {
		return nil
	}
	var ids []string
	for _, c := range snapshot() {
		ids = append(ids, c.ID())
	}
	return ids
}
