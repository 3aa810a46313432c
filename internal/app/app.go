// Package app assembles the services from configuration. Both the
// standalone server and the Lambda entry point build through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	gcs "cloud.google.com/go/storage"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/stefando/scormhost/internal/auth"
	"github.com/stefando/scormhost/internal/config"
	"github.com/stefando/scormhost/internal/fieldstore"
	"github.com/stefando/scormhost/internal/httpapi"
	"github.com/stefando/scormhost/internal/logging"
	"github.com/stefando/scormhost/internal/status"
	"github.com/stefando/scormhost/internal/storage"
	"github.com/stefando/scormhost/internal/upload"
)

// ErrNoTokenVerification is returned by Build when learner tokens could not
// be verified.
var ErrNoTokenVerification = errors.New("OIDC_ISSUER must be set unless TRUST_GATEWAY_TOKENS is enabled behind a gateway authorizer")

// App holds the wired services and the resources they own.
type App struct {
	Config  *config.Config
	Uploads *upload.Service
	Status  *status.Service
	Fields  fieldstore.Store
	Content storage.Store
	Logger  *logging.Logger

	verifier auth.Verifier
	static   http.Handler
	closers  []func() error
}

// Build wires every service described by cfg. Staging files and the local
// content tree go through fs; the status database always lives on disk.
func Build(ctx context.Context, cfg *config.Config, fs afero.Fs, logger *logging.Logger) (*App, error) {
	if cfg.OIDCIssuer == "" && !cfg.TrustGatewayTokens {
		return nil, ErrNoTokenVerification
	}
	a := &App{Config: cfg, Logger: logger}

	content, err := a.contentStore(ctx, fs)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Content = content

	progress, err := a.progressStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StatusDBPath), 0o755); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create status database directory: %w", err)
	}
	fields, err := fieldstore.OpenSQLite(cfg.StatusDBPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Fields = fields
	a.closers = append(a.closers, fields.Close)

	scratch := filepath.Join(cfg.StagingDir, "scorm-extract")
	migrator := upload.NewMigrator(fs, scratch, content, progress, cfg.StoragePrefix, logger)
	a.Uploads = upload.NewService(upload.NewReceiver(fs, cfg.StagingDir), migrator, progress, logger)
	a.Status = status.NewService(fields, status.NewLogPublisher(logger), logger, float64(cfg.DefaultWeight))

	if cfg.OIDCIssuer != "" {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, "")
		if err != nil {
			a.Close()
			return nil, err
		}
		a.verifier = v
	} else {
		a.verifier = auth.UnverifiedParser{}
	}

	logger.Info("Services initialized",
		"storage", cfg.StorageBackend,
		"progress", cfg.ProgressBackend,
		"prefix", cfg.StoragePrefix,
		"oidc", cfg.OIDCIssuer != "")
	return a, nil
}

func (a *App) contentStore(ctx context.Context, fs afero.Fs) (storage.Store, error) {
	cfg := a.Config
	switch cfg.StorageBackend {
	case config.BackendS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := storage.NewS3ClientForRole(awsCfg, cfg.RoleARN)
		return storage.NewS3Store(client, cfg.Bucket, cfg.PresignExpiry()), nil

	case config.BackendGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return storage.NewGCSStore(client, cfg.Bucket, cfg.PresignExpiry()), nil

	default:
		if err := fs.MkdirAll(cfg.LocalRoot, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create content root: %w", err)
		}
		a.static = http.FileServer(afero.NewHttpFs(afero.NewBasePathFs(fs, cfg.LocalRoot)))
		return storage.NewLocalStore(fs, cfg.LocalRoot, cfg.PublicBaseURL), nil
	}
}

func (a *App) progressStore(ctx context.Context) (upload.ProgressStore, error) {
	cfg := a.Config
	if cfg.ProgressBackend != config.ProgressRedis {
		return upload.NewMemoryProgressStore(cfg.ProgressTTL()), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
	}
	return upload.NewRedisProgressStore(client, cfg.ProgressTTL()), nil
}

// Router returns the HTTP surface over the wired services.
func (a *App) Router() *chi.Mux {
	return httpapi.NewRouter(httpapi.Options{
		Uploads:        a.Uploads,
		Status:         a.Status,
		Content:        a.Content,
		Verifier:       a.verifier,
		AllowAnonymous: a.Config.AllowAnonymous,
		MaxChunkBytes:  a.Config.MaxChunkBytes,
		Static:         a.static,
		Logger:         a.Logger,
	})
}

// Close releases clients and databases in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
