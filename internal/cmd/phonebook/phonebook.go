// Package phonebook parses phonebook service flags and launches the service.
package phonebook

import (
	"context"
	"flag"

	entrypoint "github.com/louisbranch/phonebook/internal/platform/cmd"
	server "github.com/louisbranch/phonebook/internal/services/phonebook/app"
)

// Config holds phonebook command configuration. Env names carry the
// PHONEBOOK_ prefix.
type Config struct {
	HTTPAddr        string `env:"HTTP_ADDR"        envDefault:":8080"`
	GRPCPort        int    `env:"GRPC_PORT"        envDefault:"8081"`
	DBPath          string `env:"DB_PATH"          envDefault:"data/phonebook.db"`
	SigningSecret   string `env:"SIGNING_SECRET,notEmpty"`
	FixedCredential string `env:"FIXED_CREDENTIAL" envDefault:"secret"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The phonebook HTTP server address")
	fs.IntVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "The phonebook gRPC health server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The phonebook SQLite database path")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the phonebook service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServicePhonebook, func(ctx context.Context) error {
		return server.Run(ctx, server.Config{
			GRPCPort:        cfg.GRPCPort,
			HTTPAddr:        cfg.HTTPAddr,
			DBPath:          cfg.DBPath,
			SigningSecret:   cfg.SigningSecret,
			FixedCredential: cfg.FixedCredential,
		})
	})
}
