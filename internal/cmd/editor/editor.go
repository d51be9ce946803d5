// Package editor parses editor command flags and composes the service entrypoint.
package editor

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/louisbranch/officecollab/internal/platform/cmd"
	server "github.com/louisbranch/officecollab/internal/services/editor/app"
)

// Config holds editor command configuration.
type Config struct {
	HTTPAddr       string `env:"OFFICECOLLAB_EDITOR_HTTP_ADDR"        envDefault:":5000"`
	UploadBackend  string `env:"OFFICECOLLAB_EDITOR_UPLOAD_BACKEND"   envDefault:"filesystem"`
	UploadDir      string `env:"OFFICECOLLAB_EDITOR_UPLOAD_DIR"       envDefault:"uploads"`
	UploadDBPath   string `env:"OFFICECOLLAB_EDITOR_UPLOAD_DB_PATH"   envDefault:"data/uploads.db"`
	MaxUploadBytes int64  `env:"OFFICECOLLAB_EDITOR_MAX_UPLOAD_BYTES" envDefault:"33554432"`
	IdentityHeader string `env:"OFFICECOLLAB_EDITOR_IDENTITY_HEADER"  envDefault:"X-Forwarded-User"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "editor HTTP listen address")
	fs.StringVar(&cfg.UploadBackend, "upload-backend", cfg.UploadBackend, "upload store backend (filesystem or sqlite)")
	fs.StringVar(&cfg.UploadDir, "upload-dir", cfg.UploadDir, "directory for filesystem uploads")
	fs.StringVar(&cfg.UploadDBPath, "upload-db-path", cfg.UploadDBPath, "sqlite database path for uploads")
	fs.Int64Var(&cfg.MaxUploadBytes, "max-upload-bytes", cfg.MaxUploadBytes, "maximum accepted upload body size")
	fs.StringVar(&cfg.IdentityHeader, "identity-header", cfg.IdentityHeader, "request header carrying the authenticated username")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the editor app and serves it until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceEditor, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:       cfg.HTTPAddr,
			UploadBackend:  cfg.UploadBackend,
			UploadDir:      cfg.UploadDir,
			UploadDBPath:   cfg.UploadDBPath,
			MaxUploadBytes: cfg.MaxUploadBytes,
			IdentityHeader: cfg.IdentityHeader,
		}); err != nil {
			return fmt.Errorf("serve editor: %w", err)
		}
		return nil
	})
}
