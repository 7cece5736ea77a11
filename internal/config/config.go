package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 聚合服务启动需要的关键配置。
type Config struct {
	HTTPPort           string
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	LogLevel           string
	LogFormat          string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// 鉴权配置
	AuthMode  string   // "apikey"、"jwt" 或 "none"
	APIKeys   []string // 有效的 API Keys 列表
	JWTSecret string
	JWKSURL   string

	// 存储配置
	StorageDriver  string // "local"、"s3" 或 "database"
	StorageDir     string
	StorageBaseURL string
	S3Endpoint     string // S3/MinIO 端点，不含协议
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3Region       string
	S3UseSSL       bool // 是否使用 HTTPS
	S3PathStyle    bool // 是否使用路径风格访问（MinIO 需要设为 true）
	S3PublicURL    string

	// 处理管线
	CommandPath         []string
	CommandTimeout      time.Duration
	ProcessorBackend    string // "imagemagick" 或 "native"
	ContentTypeSniffer  string // "file" 或 "magic"
	WhinyThumbnails     bool
	WhinyDeletes        bool
	StyleFailurePolicy  string
	UseEXIFOrientation  bool
	ReadTimeout         time.Duration
	FetchAllowPrivate   bool // 允许 source URL 指向内网地址
	HashDigest          string
	HashSecret          string
	ContentTypeMappings map[string][]string
	MaxUploadBytes      int64
	TempDir             string
	GeometryCacheSize   int
	AttachmentsFile     string
}

var defaults = map[string]any{
	"PORT":                  "8080",
	"CORS_ALLOWED_ORIGINS":  "http://localhost:5173",
	"RATE_LIMIT_REQUESTS":   60,
	"RATE_LIMIT_WINDOW":     time.Minute,
	"LOG_LEVEL":             "info",
	"LOG_FORMAT":            "text",
	"DB_HOST":               "127.0.0.1",
	"DB_PORT":               5432,
	"DB_USER":               "attachr",
	"DB_PASSWORD":           "attachr",
	"DB_NAME":               "attachr",
	"DB_SSL_MODE":           "disable",
	"AUTH_MODE":             "apikey",
	"API_KEYS":              "dev-api-key-123456",
	"JWT_SECRET":            "",
	"JWKS_URL":              "",
	"STORAGE_DRIVER":        "local",
	"STORAGE_DIR":           "./data",
	"STORAGE_BASE_URL":      "/system",
	"S3_ENDPOINT":           "localhost:9000",
	"S3_ACCESS_KEY":         "minioadmin",
	"S3_SECRET_KEY":         "minioadmin",
	"S3_BUCKET":             "attachr",
	"S3_REGION":             "us-east-1",
	"S3_USE_SSL":            false,
	"S3_PATH_STYLE":         true,
	"S3_PUBLIC_URL":         "",
	"COMMAND_PATH":          "",
	"COMMAND_TIMEOUT":       30 * time.Second,
	"PROCESSOR_BACKEND":     "imagemagick",
	"CONTENT_TYPE_SNIFFER":  "file",
	"WHINY_THUMBNAILS":      true,
	"WHINY_DELETES":         false,
	"STYLE_FAILURE_POLICY":  "substitute",
	"USE_EXIF_ORIENTATION":  true,
	"READ_TIMEOUT":          30 * time.Second,
	"FETCH_ALLOW_PRIVATE":   false,
	"HASH_DIGEST":           "md5",
	"HASH_SECRET":           "",
	"CONTENT_TYPE_MAPPINGS": "",
	"MAX_UPLOAD_BYTES":      int64(100 << 20),
	"TEMP_DIR":              "",
	"GEOMETRY_CACHE_SIZE":   256,
	"ATTACHMENTS_FILE":      "",
}

// Load 从环境变量（以及当前目录下可选的 .env）加载配置，并提供默认值。
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		HTTPPort:           v.GetString("PORT"),
		CORSAllowedOrigins: parseList(v.GetString("CORS_ALLOWED_ORIGINS")),
		RateLimitRequests:  v.GetInt("RATE_LIMIT_REQUESTS"),
		RateLimitWindow:    v.GetDuration("RATE_LIMIT_WINDOW"),
		LogLevel:           strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFormat:          strings.ToLower(v.GetString("LOG_FORMAT")),

		DBHost:     v.GetString("DB_HOST"),
		DBPort:     v.GetInt("DB_PORT"),
		DBUser:     v.GetString("DB_USER"),
		DBPassword: v.GetString("DB_PASSWORD"),
		DBName:     v.GetString("DB_NAME"),
		DBSSLMode:  v.GetString("DB_SSL_MODE"),

		AuthMode:  strings.ToLower(v.GetString("AUTH_MODE")),
		APIKeys:   parseList(v.GetString("API_KEYS")),
		JWTSecret: v.GetString("JWT_SECRET"),
		JWKSURL:   v.GetString("JWKS_URL"),

		StorageDriver:  strings.ToLower(v.GetString("STORAGE_DRIVER")),
		StorageDir:     v.GetString("STORAGE_DIR"),
		StorageBaseURL: v.GetString("STORAGE_BASE_URL"),
		S3Endpoint:     v.GetString("S3_ENDPOINT"),
		S3AccessKey:    v.GetString("S3_ACCESS_KEY"),
		S3SecretKey:    v.GetString("S3_SECRET_KEY"),
		S3Bucket:       v.GetString("S3_BUCKET"),
		S3Region:       v.GetString("S3_REGION"),
		S3UseSSL:       v.GetBool("S3_USE_SSL"),
		S3PathStyle:    v.GetBool("S3_PATH_STYLE"),
		S3PublicURL:    v.GetString("S3_PUBLIC_URL"),

		CommandPath:        filepath.SplitList(v.GetString("COMMAND_PATH")),
		CommandTimeout:     v.GetDuration("COMMAND_TIMEOUT"),
		ProcessorBackend:   strings.ToLower(v.GetString("PROCESSOR_BACKEND")),
		ContentTypeSniffer: strings.ToLower(v.GetString("CONTENT_TYPE_SNIFFER")),
		WhinyThumbnails:    v.GetBool("WHINY_THUMBNAILS"),
		WhinyDeletes:       v.GetBool("WHINY_DELETES"),
		StyleFailurePolicy: strings.ToLower(v.GetString("STYLE_FAILURE_POLICY")),
		UseEXIFOrientation: v.GetBool("USE_EXIF_ORIENTATION"),
		ReadTimeout:        v.GetDuration("READ_TIMEOUT"),
		FetchAllowPrivate:  v.GetBool("FETCH_ALLOW_PRIVATE"),
		HashDigest:         v.GetString("HASH_DIGEST"),
		HashSecret:         v.GetString("HASH_SECRET"),
		MaxUploadBytes:     v.GetInt64("MAX_UPLOAD_BYTES"),
		TempDir:            v.GetString("TEMP_DIR"),
		GeometryCacheSize:  v.GetInt("GEOMETRY_CACHE_SIZE"),
		AttachmentsFile:    v.GetString("ATTACHMENTS_FILE"),
	}

	mappings, err := parseMappings(v.GetString("CONTENT_TYPE_MAPPINGS"))
	if err != nil {
		return nil, err
	}
	cfg.ContentTypeMappings = mappings

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.StorageDriver == "local" {
		if err := ensureDir(cfg.StorageDir); err != nil {
			return nil, fmt.Errorf("ensure storage dir: %w", err)
		}
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	oneOf := func(key, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), value))
	}
	oneOf("STORAGE_DRIVER", c.StorageDriver, "local", "s3", "database")
	oneOf("AUTH_MODE", c.AuthMode, "apikey", "jwt", "none")
	oneOf("PROCESSOR_BACKEND", c.ProcessorBackend, "imagemagick", "native")
	oneOf("CONTENT_TYPE_SNIFFER", c.ContentTypeSniffer, "file", "magic")
	oneOf("STYLE_FAILURE_POLICY", c.StyleFailurePolicy, "substitute", "abort")
	oneOf("LOG_FORMAT", c.LogFormat, "text", "json")

	if c.RateLimitRequests <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS must be positive"))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_WINDOW must be positive"))
	}
	if c.MaxUploadBytes < 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must not be negative"))
	}
	if c.AuthMode == "apikey" && len(c.APIKeys) == 0 {
		errs = append(errs, errors.New("API_KEYS is required when AUTH_MODE=apikey"))
	}
	if c.AuthMode == "jwt" && c.JWTSecret == "" && c.JWKSURL == "" {
		errs = append(errs, errors.New("JWT_SECRET or JWKS_URL is required when AUTH_MODE=jwt"))
	}
	return errors.Join(errs...)
}

// String 输出配置摘要，密钥类字段被遮蔽。
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  HTTPPort: %s\n", c.HTTPPort)
	fmt.Fprintf(&sb, "  DB: %s@%s:%d/%s (sslmode=%s)\n", c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
	fmt.Fprintf(&sb, "  DBPassword: %s\n", mask(c.DBPassword))
	fmt.Fprintf(&sb, "  AuthMode: %s (api keys: %d)\n", c.AuthMode, len(c.APIKeys))
	fmt.Fprintf(&sb, "  JWTSecret: %s\n", mask(c.JWTSecret))
	fmt.Fprintf(&sb, "  StorageDriver: %s\n", c.StorageDriver)
	switch c.StorageDriver {
	case "local":
		fmt.Fprintf(&sb, "  StorageDir: %s (url %s)\n", c.StorageDir, c.StorageBaseURL)
	case "s3":
		fmt.Fprintf(&sb, "  S3: %s/%s (region %s, ssl %v, path style %v)\n", c.S3Endpoint, c.S3Bucket, c.S3Region, c.S3UseSSL, c.S3PathStyle)
		fmt.Fprintf(&sb, "  S3AccessKey: %s\n", mask(c.S3AccessKey))
		fmt.Fprintf(&sb, "  S3SecretKey: %s\n", mask(c.S3SecretKey))
	}
	fmt.Fprintf(&sb, "  Processor: %s (sniffer %s, timeout %s)\n", c.ProcessorBackend, c.ContentTypeSniffer, c.CommandTimeout)
	fmt.Fprintf(&sb, "  WhinyThumbnails: %v, WhinyDeletes: %v, StyleFailurePolicy: %s\n", c.WhinyThumbnails, c.WhinyDeletes, c.StyleFailurePolicy)
	fmt.Fprintf(&sb, "  HashSecret: %s\n", mask(c.HashSecret))
	fmt.Fprintf(&sb, "  AttachmentsFile: %s\n", c.AttachmentsFile)
	return sb.String()
}

func mask(secret string) string {
	if secret == "" {
		return "(empty)"
	}
	return "********"
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path %s exists but is not a directory", path)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}

	return err
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}

	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

// parseMappings 解析 "ext=type,ext=type"，同一扩展名可出现多次。
func parseMappings(raw string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, item := range parseList(raw) {
		ext, typ, ok := strings.Cut(item, "=")
		ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
		typ = strings.ToLower(strings.TrimSpace(typ))
		if !ok || ext == "" || typ == "" {
			return nil, fmt.Errorf("invalid CONTENT_TYPE_MAPPINGS entry %q", item)
		}
		out[ext] = append(out[ext], typ)
	}
	return out, nil
}

// PostgresDSN 生成标准 postgres:// 连接串，供数据访问层直接使用。
func (c *Config) PostgresDSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   c.DBName,
	}

	q := url.Values{}
	if c.DBSSLMode != "" {
		q.Set("sslmode", c.DBSSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}
