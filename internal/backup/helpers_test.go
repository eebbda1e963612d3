package backup

import (
	"testing"

	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	clienttesting "k8s.io/client-go/testing"

	"github.com/poggenpower/k8s-configmap-modifier/internal/config"
	"github.com/poggenpower/k8s-configmap-modifier/internal/document"
)

const testNamespace = "backups"

func testConfig() *config.RuntimeConfig {
	return &config.RuntimeConfig{
		SourceConfigMapName:   config.DefaultSourceConfigMapName,
		TargetConfigMapPrefix: config.DefaultTargetConfigMapPrefix,
		DirectoryKey:          config.DefaultDirectoryKey,
		DataKey:               config.DefaultDataKey,
		StorageClass:          config.DefaultStorageClass,
		Namespace:             testNamespace,
	}
}

func sourceConfigMap(data map[string]string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: config.DefaultSourceConfigMapName, Namespace: testNamespace},
		Data:       data,
	}
}

func hostnameAffinity(op corev1.NodeSelectorOperator, nodes ...string) *corev1.VolumeNodeAffinity {
	return &corev1.VolumeNodeAffinity{
		Required: &corev1.NodeSelector{
			NodeSelectorTerms: []corev1.NodeSelectorTerm{{
				MatchExpressions: []corev1.NodeSelectorRequirement{{
					Key:      corev1.LabelHostname,
					Operator: op,
					Values:   nodes,
				}},
			}},
		},
	}
}

func localPV(name, node, path string) *corev1.PersistentVolume {
	return &corev1.PersistentVolume{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: corev1.PersistentVolumeSpec{
			StorageClassName: config.DefaultStorageClass,
			PersistentVolumeSource: corev1.PersistentVolumeSource{
				Local: &corev1.LocalVolumeSource{Path: path},
			},
			NodeAffinity: hostnameAffinity(corev1.NodeSelectorOpIn, node),
		},
	}
}

func getTarget(t *testing.T, cs *fake.Clientset, node string) *document.Document {
	t.Helper()
	cm, err := cs.CoreV1().ConfigMaps(testNamespace).Get(t.Context(), "backup-config-"+node, metav1.GetOptions{})
	require.NoError(t, err)
	doc, err := document.Parse([]byte(cm.Data[config.DefaultDataKey]), config.DefaultDirectoryKey)
	require.NoError(t, err)
	return doc
}

func writeActions(cs *fake.Clientset) []clienttesting.Action {
	var out []clienttesting.Action
	for _, a := range cs.Actions() {
		if a.GetResource().Resource == "configmaps" && (a.GetVerb() == "create" || a.GetVerb() == "update") {
			out = append(out, a)
		}
	}
	return out
}

func failWith(err error) clienttesting.ReactionFunc {
	return func(clienttesting.Action) (bool, runtime.Object, error) {
		return true, nil, err
	}
}
