package backup

import (
	"context"
	"maps"
	"slices"

	"go.uber.org/zap"
	"k8s.io/client-go/kubernetes"

	"github.com/poggenpower/k8s-configmap-modifier/internal/config"
	"github.com/poggenpower/k8s-configmap-modifier/internal/matcher"
)

// Reconciler runs one pass: read the template and the volume topology, merge,
// then upsert every node's ConfigMap.
type Reconciler struct {
	Reader       *ClusterReader
	Writer       *ConfigMapWriter
	Nodes        matcher.Matcher
	StorageClass string
	Logger       *zap.SugaredLogger
}

func NewReconciler(client kubernetes.Interface, cfg *config.RuntimeConfig, logger *zap.SugaredLogger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Reconciler{
		Reader: &ClusterReader{
			Client:       client,
			Namespace:    cfg.Namespace,
			SourceName:   cfg.SourceConfigMapName,
			DataKey:      cfg.DataKey,
			DirectoryKey: cfg.DirectoryKey,
			Logger:       logger,
		},
		Writer: &ConfigMapWriter{
			Client:     client,
			Namespace:  cfg.Namespace,
			Prefix:     cfg.TargetConfigMapPrefix,
			DataKey:    cfg.DataKey,
			SourceName: cfg.SourceConfigMapName,
			DryRun:     cfg.DryRun,
		},
		Nodes:        matcher.New(cfg.NodeInclude, cfg.NodeExclude),
		StorageClass: cfg.StorageClass,
		Logger:       logger,
	}
}

// Run returns an error only for the read phase, before anything is written.
// Write failures are isolated per node and reported through Summary.Err.
func (r *Reconciler) Run(ctx context.Context) (*Summary, error) {
	doc, err := r.Reader.FetchSourceDocument(ctx)
	if err != nil {
		return nil, err
	}
	discovered, skipped, err := r.Reader.DiscoverNodeVolumes(ctx, r.StorageClass)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Skipped: skipped}
	volumes := NodeVolumeMap{}
	for _, node := range discovered.Nodes() {
		if !r.Nodes.Match(node) {
			r.Logger.Infow("node skipped by filter", "node", node)
			summary.Filtered = append(summary.Filtered, node)
			continue
		}
		volumes[node] = discovered[node]
	}

	merged := Merge(doc, volumes)
	for _, node := range slices.Sorted(maps.Keys(merged)) {
		res, err := r.Writer.Upsert(ctx, node, merged[node])
		if err != nil {
			r.Logger.Errorw("configmap upsert failed", "node", node, "configmap", res.ConfigMap, "error", err)
			summary.Failures = append(summary.Failures, &NodeError{Node: node, Err: err})
			continue
		}
		r.Logger.Infow("configmap "+string(res.Action),
			"node", node, "configmap", res.ConfigMap, "directories", res.Directories, "dryRun", r.Writer.DryRun)
		summary.Results = append(summary.Results, res)
	}
	return summary, nil
}
