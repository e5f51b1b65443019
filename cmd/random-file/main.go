// Command random-file serves random picks from a key/value file catalog.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/wolfeidau/random-file/catalog"
)

var version = "dev"

// CLI is the root command line.
type CLI struct {
	LogLevel  string `help:"Log level." enum:"debug,info,warn,error" default:"info" env:"LOG_LEVEL"`
	LogFormat string `help:"Log format." enum:"text,json" default:"text" env:"LOG_FORMAT"`

	Serve  ServeCmd         `cmd:"" default:"withargs" help:"Run the HTTP server."`
	Import ImportCmd        `cmd:"" help:"Load a JSON lines key dump into a local bolt catalog."`
	Ver    kong.VersionFlag `name:"version" help:"Print version and exit."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("random-file"),
		kong.Description("Random file picker backed by a key/value catalog."),
		kong.UsageOnError(),
		kong.Vars{"version": version, "kv_api_url": catalog.DefaultAPIURL},
	)

	logger, err := newLogger(cli.LogLevel, cli.LogFormat)
	kctx.FatalIfErrorf(err)

	ctx, cancel := signalContext(logger)
	defer cancel()

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.FatalIfErrorf(kctx.Run(logger))
}

func newLogger(levelName, format string) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", levelName)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}
