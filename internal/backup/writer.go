package backup

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"

	"github.com/poggenpower/k8s-configmap-modifier/internal/apperr"
	"github.com/poggenpower/k8s-configmap-modifier/internal/document"
)

type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

type Result struct {
	Node        string
	ConfigMap   string
	Action      Action
	Directories []string
}

// ConfigMapWriter owns the per-node target ConfigMaps. An existing target has
// its whole data payload replaced; the last writer wins.
type ConfigMapWriter struct {
	Client     kubernetes.Interface
	Namespace  string
	Prefix     string
	DataKey    string
	SourceName string
	DryRun     bool
}

func (w *ConfigMapWriter) Upsert(ctx context.Context, node string, merged *document.Document) (Result, error) {
	res := Result{Node: node, Directories: merged.Directories()}
	name, err := TargetName(w.Prefix, node)
	if err != nil {
		return res, apperr.Configuration("target name", err)
	}
	res.ConfigMap = name

	payload, err := merged.Encode()
	if err != nil {
		return res, fmt.Errorf("encode document for %s: %w", name, err)
	}
	data := map[string]string{w.DataKey: string(payload)}
	lbls := targetLabels()
	ann := targetAnnotations(w.Namespace, w.SourceName, node)

	cms := w.Client.CoreV1().ConfigMaps(w.Namespace)
	existing, err := cms.Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		cm := &corev1.ConfigMap{
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: w.Namespace, Labels: lbls, Annotations: ann},
			Data:       data,
		}
		if _, err := cms.Create(ctx, cm, metav1.CreateOptions{FieldManager: FieldManager, DryRun: w.dryRun()}); err != nil {
			return res, apperr.API(fmt.Sprintf("create configmap %s/%s", w.Namespace, name), err)
		}
		res.Action = ActionCreated
		return res, nil
	}
	if err != nil {
		return res, apperr.API(fmt.Sprintf("get configmap %s/%s", w.Namespace, name), err)
	}

	if equality.Semantic.DeepEqual(existing.Data, data) && len(existing.BinaryData) == 0 &&
		hasAll(existing.Labels, lbls) && hasAll(existing.Annotations, ann) {
		res.Action = ActionUnchanged
		return res, nil
	}

	updated := existing.DeepCopy()
	updated.Data = data
	updated.BinaryData = nil
	updated.Labels = labels.Merge(updated.Labels, lbls)
	updated.Annotations = labels.Merge(updated.Annotations, ann)
	if _, err := cms.Update(ctx, updated, metav1.UpdateOptions{FieldManager: FieldManager, DryRun: w.dryRun()}); err != nil {
		return res, apperr.API(fmt.Sprintf("update configmap %s/%s", w.Namespace, name), err)
	}
	res.Action = ActionUpdated
	return res, nil
}

func (w *ConfigMapWriter) dryRun() []string {
	if w.DryRun {
		return []string{metav1.DryRunAll}
	}
	return nil
}

func hasAll(have, want map[string]string) bool {
	for k, v := range want {
		if got, ok := have[k]; !ok || got != v {
			return false
		}
	}
	return true
}
