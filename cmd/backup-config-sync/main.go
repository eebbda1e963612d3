package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/client-go/kubernetes"

	"github.com/poggenpower/k8s-configmap-modifier/internal/apperr"
	"github.com/poggenpower/k8s-configmap-modifier/internal/backup"
	"github.com/poggenpower/k8s-configmap-modifier/internal/config"
	"github.com/poggenpower/k8s-configmap-modifier/internal/kube"
)

const (
	exitOK      = 0
	exitFatal   = 1
	exitPartial = 2
)

type clientFactory func(kubeconfig string, timeout time.Duration) (kubernetes.Interface, error)

func main() {
	level := zap.NewAtomicLevel()
	logger := zap.Must(newLogger(level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, logger.Sugar(), level, nil, newClientset)
	stop()
	_ = logger.Sync()
	os.Exit(code)
}

// run performs one reconciliation and maps its outcome to an exit code. env
// replaces the process environment when non-nil.
func run(ctx context.Context, log *zap.SugaredLogger, level zap.AtomicLevel, env map[string]string, newClient clientFactory) int {
	cfg, err := config.Load(config.LoadOptions{Environment: env, ContextNamespace: kube.ContextNamespace})
	if err != nil {
		log.Errorw("configuration error", "error", err)
		return exitFatal
	}
	level.SetLevel(cfg.LogLevel)
	log.Infow("starting reconciliation",
		"namespace", cfg.Namespace,
		"source", cfg.SourceConfigMapName,
		"targetPrefix", cfg.TargetConfigMapPrefix,
		"dataKey", cfg.DataKey,
		"directoryKey", cfg.DirectoryKey,
		"storageClass", cfg.StorageClass,
		"dryRun", cfg.DryRun)

	client, err := newClient(cfg.Kubeconfig, cfg.RequestTimeout)
	if err != nil {
		log.Errorw("kube client", "error", err)
		return exitFatal
	}

	summary, err := backup.NewReconciler(client, cfg, log).Run(ctx)
	if err != nil {
		log.Errorw("reconciliation aborted, nothing written", "kind", kindOf(err), "error", err)
		return exitFatal
	}

	log.Infow("reconciliation finished",
		"created", summary.Count(backup.ActionCreated),
		"updated", summary.Count(backup.ActionUpdated),
		"unchanged", summary.Count(backup.ActionUnchanged),
		"failed", len(summary.Failures),
		"skippedVolumes", len(summary.Skipped),
		"filteredNodes", len(summary.Filtered))
	if err := summary.Err(); err != nil {
		log.Errorw("some nodes failed", "nodes", summary.FailedNodes(), "error", err)
		return exitPartial
	}
	return exitOK
}

func newClientset(kubeconfig string, timeout time.Duration) (kubernetes.Interface, error) {
	cs, err := kube.NewClient(kubeconfig, timeout)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// newLogger builds a human readable console logger at level.
func newLogger(level zap.AtomicLevel) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Encoding = "console"
	cfg.Sampling = nil
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg.Build()
}

func kindOf(err error) apperr.Kind {
	for _, k := range []apperr.Kind{apperr.KindConfiguration, apperr.KindNotFound, apperr.KindParse, apperr.KindAPI} {
		if apperr.Is(err, k) {
			return k
		}
	}
	return "unknown"
}
