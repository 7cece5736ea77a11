// Package app 根据配置组装附件管线、持久层与 HTTP 服务。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"attachr/internal/api"
	"attachr/internal/attachment"
	"attachr/internal/command"
	"attachr/internal/config"
	"attachr/internal/database"
	"attachr/internal/geometry"
	"attachr/internal/interpolate"
	"attachr/internal/mediatype"
	"attachr/internal/middleware"
	"attachr/internal/processor"
	"attachr/internal/repository/postgres"
	"attachr/internal/service"
	"attachr/internal/storage"
	blobstore "attachr/internal/storage/database"
	"attachr/internal/storage/local"
	"attachr/internal/storage/s3"
	"attachr/internal/upload"
)

// App 持有运行期依赖，Close 负责释放。
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	DB      *sql.DB
	Service *service.AttachmentService

	closers []func()
}

// New 连接数据库并构建附件服务。
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	defs, err := cfg.LoadDefinitions()
	if err != nil {
		return nil, fmt.Errorf("load attachment definitions: %w", err)
	}

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, DB: db}
	a.closers = append(a.closers, func() { db.Close() })

	deps, err := NewDeps(ctx, cfg, db, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Service = service.NewAttachmentService(postgres.NewAttachmentRepository(db), defs, deps, logger)

	logger.Info("attachment pipeline ready",
		"attachments", a.Service.Names(),
		"storage", cfg.StorageDriver,
		"processor", cfg.ProcessorBackend,
		"sniffer", cfg.ContentTypeSniffer,
	)
	return a, nil
}

// Router 构建带鉴权的 HTTP 路由。
func (a *App) Router() (http.Handler, error) {
	auth, err := a.authMiddleware()
	if err != nil {
		return nil, err
	}
	handler := api.NewAttachmentHandler(a.Service, a.Config.MaxUploadBytes, a.Logger)
	return api.NewRouter(a.Config, auth, handler, a.Logger), nil
}

func (a *App) authMiddleware() (func(http.Handler) http.Handler, error) {
	switch a.Config.AuthMode {
	case "none":
		a.Logger.Warn("authentication disabled", "auth_mode", a.Config.AuthMode)
		return nil, nil
	case "jwt":
		jwtAuth, err := middleware.NewJWTAuthenticator(middleware.JWTOptions{
			Secret:  a.Config.JWTSecret,
			JWKSURL: a.Config.JWKSURL,
			Client:  &http.Client{Timeout: a.Config.ReadTimeout},
			Logger:  a.Logger,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, jwtAuth.Close)
		return jwtAuth.Middleware(), nil
	default:
		return middleware.APIKeyAuth(a.Config.APIKeys), nil
	}
}

// Close 按构建的逆序释放资源。
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// NewDeps 根据配置选择内容识别、尺寸识别、处理器与存储后端。
// db 只在 STORAGE_DRIVER=database 时使用。
func NewDeps(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) (attachment.Deps, error) {
	if logger == nil {
		logger = slog.Default()
	}
	runner := command.NewExec(cfg.CommandPath, cfg.CommandTimeout, logger)

	if cfg.TempDir != "" {
		if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
			return attachment.Deps{}, fmt.Errorf("create temp dir: %w", err)
		}
	}

	detector := mediatype.NewDetector(newSniffer(cfg, runner, logger), logger)

	proc, err := newProcessor(cfg, runner, logger)
	if err != nil {
		return attachment.Deps{}, err
	}

	backend, err := newBackend(ctx, cfg, db)
	if err != nil {
		return attachment.Deps{}, err
	}

	if cfg.FetchAllowPrivate {
		logger.Warn("remote sources may target private addresses", "fetch_allow_private", true)
	}
	registry := upload.NewRegistry(detector,
		upload.NewFetchClient(cfg.ReadTimeout, cfg.FetchAllowPrivate),
		upload.WithTempDir(cfg.TempDir),
		upload.WithMaxFetchBytes(cfg.MaxUploadBytes),
		upload.WithLogger(logger),
	)

	return attachment.Deps{
		Registry:     registry,
		Processor:    proc,
		Backend:      storage.Instrument(backend, cfg.StorageDriver),
		Spoof:        mediatype.NewSpoofDetector(detector, cfg.ContentTypeMappings, logger),
		Interpolator: interpolate.New(),
		Logger:       logger,
	}, nil
}

// newSniffer 在 file 命令不可用时退回进程内识别。
func newSniffer(cfg *config.Config, runner *command.Exec, logger *slog.Logger) mediatype.Sniffer {
	if cfg.ContentTypeSniffer == "magic" {
		return mediatype.MagicSniffer{}
	}
	if _, err := runner.Resolve("file"); err != nil {
		logger.Warn("file command unavailable, using in-process content sniffing", "error", err)
		return mediatype.MagicSniffer{}
	}
	return &mediatype.FileCommandSniffer{Runner: runner}
}

func newProcessor(cfg *config.Config, runner *command.Exec, logger *slog.Logger) (processor.Processor, error) {
	if cfg.ProcessorBackend == "native" {
		return &processor.Native{TempDir: cfg.TempDir}, nil
	}

	var detector geometry.Detector = &geometry.IdentifyDetector{
		Runner:             runner,
		UseExifOrientation: cfg.UseEXIFOrientation,
	}
	if _, err := runner.Resolve("identify"); err != nil {
		logger.Warn("identify command unavailable, using in-process geometry detection", "error", err)
		detector = geometry.NativeDetector{}
	}
	cached, err := geometry.NewCachedDetector(detector, cfg.GeometryCacheSize)
	if err != nil {
		return nil, err
	}
	return &processor.Thumbnail{
		Runner:   runner,
		Geometry: cached,
		Whiny:    cfg.WhinyThumbnails,
		TempDir:  cfg.TempDir,
		Logger:   logger,
	}, nil
}

func newBackend(ctx context.Context, cfg *config.Config, db *sql.DB) (storage.Backend, error) {
	switch cfg.StorageDriver {
	case "s3":
		return s3.New(ctx, s3.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
			PublicURL: cfg.S3PublicURL,
		})
	case "database":
		if db == nil {
			return nil, errors.New("database storage requires a database connection")
		}
		blobs := blobstore.New(db, cfg.StorageBaseURL)
		blobs.MaxBytes = cfg.MaxUploadBytes
		return blobs, nil
	default:
		return local.New(cfg.StorageDir, cfg.StorageBaseURL), nil
	}
}
