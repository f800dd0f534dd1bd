package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/config"
	"github.com/Sukarth/perplexity-web-mcp-extension-sub000/internal/storage"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	baseDir := filepath.Join(homeDir, ".webmcp")
	if env := os.Getenv("WEBMCP_HOME"); env != "" {
		baseDir = env
	}

	database, err := storage.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	app := newCLIApp(baseDir, database, cfg)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
