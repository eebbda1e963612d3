package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/caarlos0/env/v11"
	"go.uber.org/zap/zapcore"

	"github.com/poggenpower/k8s-configmap-modifier/internal/apperr"
)

const (
	DefaultSourceConfigMapName   = "backup-template"
	DefaultTargetConfigMapPrefix = "backup-config"
	DefaultDirectoryKey          = "directories"
	DefaultDataKey               = "config.yaml"
	DefaultStorageClass          = "local-storage"

	ServiceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"
)

// RuntimeConfig is resolved once at startup and only read afterwards.
type RuntimeConfig struct {
	SourceConfigMapName   string `env:"SOURCE_CONFIGMAP_NAME" envDefault:"backup-template"`
	TargetConfigMapPrefix string `env:"TARGET_CONFIGMAP_NAME" envDefault:"backup-config"`
	DirectoryKey          string `env:"DIRECTORY_KEY" envDefault:"directories"`
	DataKey               string `env:"CONFIG_DATA_KEY" envDefault:"config.yaml"`
	StorageClass          string `env:"STORAGE_CLASS" envDefault:"local-storage"`
	Namespace             string `env:"NAMESPACE"`
	Kubeconfig            string `env:"KUBECONFIG"`

	NodeInclude []string `env:"NODE_INCLUDE" envSeparator:","`
	NodeExclude []string `env:"NODE_EXCLUDE" envSeparator:","`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	DryRun         bool          `env:"DRY_RUN"`
	LogLevel       zapcore.Level `env:"LOG_LEVEL" envDefault:"info"`
}

// NamespaceFunc resolves a namespace from a kubeconfig, used as the last
// fallback when running out of cluster.
type NamespaceFunc func(kubeconfig string) (string, error)

type LoadOptions struct {
	// Environment replaces the process environment when non-nil.
	Environment map[string]string
	// NamespaceFile defaults to ServiceAccountNamespaceFile.
	NamespaceFile    string
	ContextNamespace NamespaceFunc
}

// Load builds the RuntimeConfig from the environment. Every failure is a
// configuration error.
func Load(opts LoadOptions) (*RuntimeConfig, error) {
	cfg := &RuntimeConfig{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: opts.Environment}); err != nil {
		return nil, apperr.Configuration("parse environment", err)
	}
	cfg.NodeInclude = trimEmpty(cfg.NodeInclude)
	cfg.NodeExclude = trimEmpty(cfg.NodeExclude)

	if err := cfg.validate(); err != nil {
		return nil, apperr.Configuration("validate", err)
	}

	if cfg.Namespace == "" {
		ns, err := resolveNamespace(cfg.Kubeconfig, opts)
		if err != nil {
			return nil, apperr.Configuration("resolve namespace", err)
		}
		cfg.Namespace = ns
	}
	return cfg, nil
}

func (c *RuntimeConfig) validate() error {
	var errs error
	required := map[string]string{
		"SOURCE_CONFIGMAP_NAME": c.SourceConfigMapName,
		"TARGET_CONFIGMAP_NAME": c.TargetConfigMapPrefix,
		"DIRECTORY_KEY":         c.DirectoryKey,
		"CONFIG_DATA_KEY":       c.DataKey,
		"STORAGE_CLASS":         c.StorageClass,
	}
	for name, v := range required {
		if strings.TrimSpace(v) == "" {
			errs = errors.Join(errs, fmt.Errorf("%s must not be empty", name))
		}
	}
	for _, p := range append(append([]string{}, c.NodeInclude...), c.NodeExclude...) {
		if !doublestar.ValidatePattern(p) {
			errs = errors.Join(errs, fmt.Errorf("invalid node pattern %q", p))
		}
	}
	if c.RequestTimeout < 0 {
		errs = errors.Join(errs, fmt.Errorf("REQUEST_TIMEOUT must not be negative"))
	}
	return errs
}

func resolveNamespace(kubeconfig string, opts LoadOptions) (string, error) {
	path := opts.NamespaceFile
	if path == "" {
		path = ServiceAccountNamespaceFile
	}
	if b, err := os.ReadFile(path); err == nil {
		if ns := strings.TrimSpace(string(b)); ns != "" {
			return ns, nil
		}
	}
	if opts.ContextNamespace == nil {
		return "", errors.New("NAMESPACE not set and not running in cluster")
	}
	ns, err := opts.ContextNamespace(kubeconfig)
	if err != nil {
		return "", fmt.Errorf("NAMESPACE not set, not running in cluster and no usable kubeconfig context: %w", err)
	}
	if ns == "" {
		return "", errors.New("kubeconfig context has no namespace")
	}
	return ns, nil
}

func trimEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
