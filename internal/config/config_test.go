package config

import (
	"strings"
	"testing"
	"time"

	"attachr/internal/attachment"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_DIR", t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != "8080" || cfg.StorageDriver != "local" || cfg.AuthMode != "apikey" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.CommandTimeout != 30*time.Second || cfg.MaxUploadBytes != 100<<20 {
		t.Fatalf("unexpected pipeline defaults: %s %d", cfg.CommandTimeout, cfg.MaxUploadBytes)
	}
	if !cfg.WhinyThumbnails || cfg.WhinyDeletes {
		t.Fatalf("unexpected whiny defaults")
	}
	if cfg.FetchAllowPrivate {
		t.Fatalf("private fetch targets should be rejected by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "s3")
	t.Setenv("AUTH_MODE", "jwt")
	t.Setenv("JWT_SECRET", "shh")
	t.Setenv("COMMAND_TIMEOUT", "5s")
	t.Setenv("COMMAND_PATH", "/opt/im/bin")
	t.Setenv("CONTENT_TYPE_MAPPINGS", "PNG=text/plain, .png=image/x-png")
	t.Setenv("WHINY_DELETES", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageDriver != "s3" || cfg.AuthMode != "jwt" || !cfg.WhinyDeletes {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.CommandTimeout != 5*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.CommandTimeout)
	}
	if len(cfg.CommandPath) != 1 || cfg.CommandPath[0] != "/opt/im/bin" {
		t.Fatalf("unexpected command path %v", cfg.CommandPath)
	}
	if got := cfg.ContentTypeMappings["png"]; len(got) != 2 || got[0] != "text/plain" || got[1] != "image/x-png" {
		t.Fatalf("unexpected mappings %v", cfg.ContentTypeMappings)
	}
	if s := cfg.String(); strings.Contains(s, "shh") || strings.Contains(s, "minioadmin") {
		t.Fatalf("secrets leaked in String(): %s", s)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("STORAGE_DIR", t.TempDir())
	t.Setenv("STORAGE_DRIVER", "ftp")
	t.Setenv("AUTH_MODE", "jwt")
	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"STORAGE_DRIVER", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{DBHost: "db", DBPort: 5432, DBUser: "u", DBPassword: "p@ss", DBName: "attachr", DBSSLMode: "disable"}
	if got := cfg.PostgresDSN(); got != "postgres://u:p%40ss@db:5432/attachr?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", got)
	}
}

func TestLoadDefinitions_Builtin(t *testing.T) {
	cfg := &Config{WhinyThumbnails: true, StyleFailurePolicy: "substitute", UseEXIFOrientation: true}
	defs, err := cfg.LoadDefinitions()
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	def := defs[DefaultAttachmentName]
	if def == nil {
		t.Fatalf("builtin definition missing")
	}
	if got := def.Styles.Names(); strings.Join(got, ",") != "original,thumb,medium" {
		t.Fatalf("unexpected styles %v", got)
	}
	if def.DefaultStyle != "medium" || len(def.Validators) != 1 {
		t.Fatalf("unexpected definition %+v", def)
	}
}

func TestParseDefinitions(t *testing.T) {
	cfg := &Config{WhinyThumbnails: true, StyleFailurePolicy: "substitute", HashDigest: "sha256", UseEXIFOrientation: true}
	raw := []byte(`
attachments:
  document:
    path: ":class/:id/:style/:hash.:extension"
    hash_secret: topsecret
    keep_old_files: true
    whiny: false
    style_failure: abort
    styles:
      - name: preview
        geometry: "400x400>"
        format: png
        convert_options: "-strip"
      - name: tiny
        geometry: "32x32#"
        auto_orient: true
    validations:
      presence: true
      size: {max: 1024}
      file_name:
        not_matches: ['\.exe$']
`)
	defs, err := cfg.ParseDefinitions(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	def := defs["document"]
	if def == nil {
		t.Fatalf("document definition missing")
	}
	if def.Whiny || !def.KeepOldFiles || def.StyleFailure != attachment.StyleFailureAbort {
		t.Fatalf("flags not applied: %+v", def)
	}
	if string(def.Digest) != "sha256" || def.HashSecret != "topsecret" {
		t.Fatalf("hash settings not applied: %+v", def)
	}
	preview, ok := def.Styles.Get("preview")
	if !ok || preview.Format != "png" || preview.ConvertOptions != "-strip" || !preview.AutoOrientEnabled() {
		t.Fatalf("unexpected preview style %+v", preview)
	}
	if len(def.Validators) != 3 {
		t.Fatalf("expected 3 validators, got %d", len(def.Validators))
	}
}

func TestParseDefinitions_Errors(t *testing.T) {
	cfg := &Config{StyleFailurePolicy: "substitute"}
	cases := map[string]string{
		"empty":         `attachments: {}`,
		"unknown field": "attachments:\n  a:\n    colour: red\n",
		"hash secret":   "attachments:\n  a:\n    path: \":hash\"\n",
		"duplicate":     "attachments:\n  a:\n    styles:\n      - name: x\n      - name: x\n",
		"bad regexp":    "attachments:\n  a:\n    validations:\n      file_name:\n        matches: ['(']\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := cfg.ParseDefinitions([]byte(raw)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
