package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/bridge"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/chunk"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/config"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/errors"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/scanner"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/storage"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/thread"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(baseDir string, db *sql.DB, cfg *config.Config) *cli.App {
	kv := storage.NewSQLiteKV(db)
	app := &cli.App{
		Name:    "webmcp",
		Usage:   "Tool-call orchestration engine for turn-based chat hosts",
		Version: Version,
		Commands: []*cli.Command{
			scanCmd(),
			splitCmd(cfg),
			threadsCmd(kv),
			toolsCmd(baseDir, cfg),
			callCmd(baseDir, cfg),
			serveCmd(kv),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// scanCmd extracts the first tool-invocation marker from stdin text.
func scanCmd() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Scan text from stdin for a tool-invocation marker",
		Action: func(c *cli.Context) error {
			if !stdinHasData() {
				return outputError(errors.NewInvalidRequest("text must be piped via stdin"))
			}
			text, err := readStdin()
			if err != nil {
				return outputError(errors.NewInternal(err))
			}

			inv := scanner.Scan(text)
			if inv == nil {
				return outputJSON(map[string]any{"match": false})
			}
			return outputJSON(map[string]any{
				"match":      true,
				"server":     inv.Server,
				"tool":       inv.Tool,
				"parameters": inv.Params,
				"raw_marker": inv.RawMarker,
			})
		},
	}
}

// splitCmd shows how a payload from stdin would be chunked.
func splitCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "split",
		Usage: "Split stdin into host-sized chunks and print part headers",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Submission character limit (defaults to config)"},
			&cli.BoolFlag{Name: "full", Usage: "Print full chunk bodies instead of a summary"},
		},
		Action: func(c *cli.Context) error {
			if !stdinHasData() {
				return outputError(errors.NewInvalidRequest("payload must be piped via stdin"))
			}
			payload, err := readStdin()
			if err != nil {
				return outputError(errors.NewInternal(err))
			}

			limit := c.Int("limit")
			if limit == 0 {
				limit = cfg.ChunkCharLimit
			}

			chunks := chunk.WrapParts(chunk.Split(payload, limit))
			if c.Bool("full") {
				for i, part := range chunks {
					fmt.Printf("----- chunk %d/%d (%d chars) -----\n%s\n", i+1, len(chunks), len(part), part)
				}
				return nil
			}

			type summary struct {
				Index  int    `json:"index"`
				Chars  int    `json:"chars"`
				Header string `json:"header,omitempty"`
			}
			out := make([]summary, len(chunks))
			for i, part := range chunks {
				s := summary{Index: i + 1, Chars: len(part)}
				if header, _, found := strings.Cut(part, "\n\n"); found && strings.HasPrefix(part, "[Part ") {
					s.Header = header
				}
				out[i] = s
			}
			return outputJSON(out)
		},
	}
}

// threadsCmd groups persisted-thread inspection commands.
func threadsCmd(kv *storage.SQLiteKV) *cli.Command {
	store := thread.NewStore(kv)
	return &cli.Command{
		Name:  "threads",
		Usage: "Inspect persisted thread state",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List threads with persisted state",
				Action: func(c *cli.Context) error {
					keys, err := kv.Keys(c.Context)
					if err != nil {
						return outputError(errors.NewInternal(err))
					}
					ids := make([]string, 0, len(keys))
					for _, key := range keys {
						if id, ok := thread.ThreadIDFromKey(key); ok {
							ids = append(ids, id)
						}
					}
					return outputJSON(map[string]any{"threads": ids})
				},
			},
			{
				Name:      "show",
				Usage:     "Show one thread's persisted state",
				ArgsUsage: "<thread-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("thread-id is required"))
					}
					state, err := store.Load(c.Context, c.Args().First())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(state)
				},
			},
			{
				Name:      "purge",
				Usage:     "Delete one thread's persisted state",
				ArgsUsage: "<thread-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("thread-id is required"))
					}
					threadID := c.Args().First()
					if err := kv.Delete(c.Context, thread.Key(threadID)); err != nil {
						return outputError(errors.NewInternal(err))
					}
					return outputJSON(map[string]any{"purged": threadID})
				},
			},
		},
	}
}

// toolsCmd lists the tools a configured bridge server offers.
func toolsCmd(baseDir string, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "tools",
		Usage:     "List tools offered by a bridge server",
		ArgsUsage: "<server>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("server is required"))
			}
			server := c.Args().First()

			br, err := openBridge(baseDir, cfg)
			if err != nil {
				return outputError(err)
			}
			defer br.Close()

			tools, err := br.ListTools(c.Context, server)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"server": server, "tools": tools})
		},
	}
}

// callCmd executes one tool directly through the bridge.
func callCmd(baseDir string, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "Execute a tool on a bridge server",
		ArgsUsage: "<server> <tool>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "param", Aliases: []string{"p"}, Usage: "Parameter as name=value (repeatable)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return outputError(errors.NewInvalidRequest("server and tool are required"))
			}
			server, tool := c.Args().Get(0), c.Args().Get(1)

			params := map[string]any{}
			for _, p := range c.StringSlice("param") {
				name, value, found := strings.Cut(p, "=")
				if !found || name == "" {
					return outputError(errors.NewInvalidRequest("param must be name=value: " + p))
				}
				params[name] = value
			}

			br, err := openBridge(baseDir, cfg)
			if err != nil {
				return outputError(err)
			}
			defer br.Close()

			result, err := br.Execute(c.Context, server, tool, params)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"server": server, "tool": tool, "result": result})
		},
	}
}

// serveCmd runs the thread-state inspector.
func serveCmd(kv *storage.SQLiteKV) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the thread-state inspector",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Value: 8642, Usage: "Listen port"},
		},
		Action: func(c *cli.Context) error {
			srv := web.NewServer(kv, Version, c.String("bind"), c.Int("port"))
			fmt.Fprintf(os.Stderr, "inspector listening on http://%s\n", srv.Addr)
			return srv.ListenAndServe()
		},
	}
}

// openBridge builds an MCP bridge from the servers.json registry.
func openBridge(baseDir string, cfg *config.Config) (*bridge.MCPBridge, error) {
	servers, err := bridge.LoadServers(baseDir)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if len(servers) == 0 {
		return nil, errors.NewInvalidRequest("no bridge servers configured; add them to servers.json")
	}
	timeout := time.Duration(cfg.ExecutionTimeoutSecs) * time.Second
	return bridge.NewMCPBridge(servers, timeout, Version), nil
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputError(err error) error {
	if engErr, ok := err.(*errors.EngineError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", engErr.Code, engErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
