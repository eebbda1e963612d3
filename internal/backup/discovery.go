package backup

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/pager"

	"github.com/poggenpower/k8s-configmap-modifier/internal/apperr"
	"github.com/poggenpower/k8s-configmap-modifier/internal/document"
)

// NodeVolumeMap maps a node name to the local volume paths attached to it,
// deduplicated and in discovery order.
type NodeVolumeMap map[string][]string

func (m NodeVolumeMap) Add(node, path string) {
	if slices.Contains(m[node], path) {
		return
	}
	m[node] = append(m[node], path)
}

// Nodes returns the node names in sorted order.
func (m NodeVolumeMap) Nodes() []string {
	return slices.Sorted(maps.Keys(m))
}

// SkippedVolume is a volume of the storage class that could not be
// attributed to a single node.
type SkippedVolume struct {
	Name   string
	Reason string
}

// ClusterReader reads the source template and the local volume topology.
type ClusterReader struct {
	Client       kubernetes.Interface
	Namespace    string
	SourceName   string
	DataKey      string
	DirectoryKey string
	Logger       *zap.SugaredLogger
}

// FetchSourceDocument reads and parses the source ConfigMap. A missing data
// key yields an empty document.
func (r *ClusterReader) FetchSourceDocument(ctx context.Context) (*document.Document, error) {
	op := fmt.Sprintf("get configmap %s/%s", r.Namespace, r.SourceName)
	cm, err := r.Client.CoreV1().ConfigMaps(r.Namespace).Get(ctx, r.SourceName, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, apperr.NotFound(op, err)
	}
	if err != nil {
		return nil, apperr.API(op, err)
	}

	var payload []byte
	if s, ok := cm.Data[r.DataKey]; ok {
		payload = []byte(s)
	} else if b, ok := cm.BinaryData[r.DataKey]; ok {
		payload = b
	} else {
		r.log().Warnw("source configmap has no data key, starting from an empty document",
			"configmap", r.SourceName, "key", r.DataKey, "keys", slices.Sorted(maps.Keys(cm.Data)))
	}

	doc, err := document.Parse(payload, r.DirectoryKey)
	if err != nil {
		return nil, apperr.Parse(fmt.Sprintf("parse %s/%s key %s", r.Namespace, r.SourceName, r.DataKey), err)
	}
	r.log().Infow("source document loaded", "configmap", r.SourceName, "directories", doc.Directories())
	return doc, nil
}

// DiscoverNodeVolumes lists the PersistentVolumes of storageClass and groups
// their local paths by the node they are pinned to.
func (r *ClusterReader) DiscoverNodeVolumes(ctx context.Context, storageClass string) (NodeVolumeMap, []SkippedVolume, error) {
	var pvs []*corev1.PersistentVolume
	p := pager.New(pager.SimplePageFunc(func(opts metav1.ListOptions) (runtime.Object, error) {
		return r.Client.CoreV1().PersistentVolumes().List(ctx, opts)
	}))
	err := p.EachListItem(ctx, metav1.ListOptions{}, func(obj runtime.Object) error {
		pv, ok := obj.(*corev1.PersistentVolume)
		if !ok {
			return fmt.Errorf("unexpected object %T in persistentvolume list", obj)
		}
		if pv.Spec.StorageClassName == storageClass {
			pvs = append(pvs, pv)
		}
		return nil
	})
	if err != nil {
		return nil, nil, apperr.API("list persistentvolumes", err)
	}
	sort.Slice(pvs, func(i, j int) bool { return pvs[i].Name < pvs[j].Name })

	volumes := NodeVolumeMap{}
	var skipped []SkippedVolume
	for _, pv := range pvs {
		node, path, reason := attribute(pv)
		if reason != "" {
			r.log().Warnw("skipping volume", "pv", pv.Name, "storageClass", storageClass, "reason", reason)
			skipped = append(skipped, SkippedVolume{Name: pv.Name, Reason: reason})
			continue
		}
		r.log().Debugw("volume discovered", "pv", pv.Name, "node", node, "path", path)
		volumes.Add(node, path)
	}
	r.log().Infow("volumes discovered", "storageClass", storageClass, "volumes", len(pvs), "nodes", len(volumes), "skipped", len(skipped))
	return volumes, skipped, nil
}

// attribute returns the node and local path of pv, or a reason to skip it.
func attribute(pv *corev1.PersistentVolume) (node, path, reason string) {
	if pv.Spec.Local == nil {
		return "", "", "not a local volume"
	}
	if pv.Spec.Local.Path == "" {
		return "", "", "empty local path"
	}
	node, reason = affineNode(pv.Spec.NodeAffinity)
	return node, pv.Spec.Local.Path, reason
}

// affineNode accepts only kubernetes.io/hostname In expressions that all
// name the same single node.
func affineNode(affinity *corev1.VolumeNodeAffinity) (string, string) {
	if affinity == nil || affinity.Required == nil {
		return "", "no required node affinity"
	}
	nodes := sets.New[string]()
	for _, term := range affinity.Required.NodeSelectorTerms {
		for _, expr := range term.MatchExpressions {
			if expr.Key != corev1.LabelHostname {
				continue
			}
			if expr.Operator != corev1.NodeSelectorOpIn {
				return "", fmt.Sprintf("unsupported operator %s on %s", expr.Operator, corev1.LabelHostname)
			}
			nodes.Insert(expr.Values...)
		}
	}
	switch {
	case nodes.Has(""):
		return "", "empty hostname in node affinity"
	case nodes.Len() == 0:
		return "", "no " + corev1.LabelHostname + " In expression"
	case nodes.Len() > 1:
		return "", "affine to several nodes: " + strings.Join(sets.List(nodes), ", ")
	}
	return nodes.UnsortedList()[0], ""
}

func (r *ClusterReader) log() *zap.SugaredLogger {
	if r.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return r.Logger
}
