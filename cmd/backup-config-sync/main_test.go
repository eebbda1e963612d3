package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	clienttesting "k8s.io/client-go/testing"
)

const (
	testNamespace = "backups"
	sourcePayload = "directories: [/mnt/old]\n"
)

func sourceConfigMap(payload string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "backup-template", Namespace: testNamespace},
		Data:       map[string]string{"config.yaml": payload},
	}
}

func localPV(name, node, path string) *corev1.PersistentVolume {
	return &corev1.PersistentVolume{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: corev1.PersistentVolumeSpec{
			StorageClassName: "local-storage",
			PersistentVolumeSource: corev1.PersistentVolumeSource{
				Local: &corev1.LocalVolumeSource{Path: path},
			},
			NodeAffinity: &corev1.VolumeNodeAffinity{
				Required: &corev1.NodeSelector{
					NodeSelectorTerms: []corev1.NodeSelectorTerm{{
						MatchExpressions: []corev1.NodeSelectorRequirement{{
							Key:      corev1.LabelHostname,
							Operator: corev1.NodeSelectorOpIn,
							Values:   []string{node},
						}},
					}},
				},
			},
		},
	}
}

func forbidCreate(name string) clienttesting.ReactionFunc {
	return func(a clienttesting.Action) (bool, runtime.Object, error) {
		cm := a.(clienttesting.CreateAction).GetObject().(*corev1.ConfigMap)
		if cm.Name != name {
			return false, nil, nil
		}
		return true, nil, apierrors.NewForbidden(schema.GroupResource{Resource: "configmaps"}, cm.Name, errors.New("rbac"))
	}
}

func failWith(err error) clienttesting.ReactionFunc {
	return func(clienttesting.Action) (bool, runtime.Object, error) {
		return true, nil, err
	}
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		objects   []runtime.Object
		verb      string
		resource  string
		reaction  clienttesting.ReactionFunc
		clientErr error
		want      int
	}{
		{
			name:    "all nodes written",
			objects: []runtime.Object{sourceConfigMap(sourcePayload), localPV("pv-1", "node-1", "/mnt/a"), localPV("pv-2", "node-2", "/mnt/b")},
			want:    exitOK,
		},
		{
			name:    "no volumes",
			objects: []runtime.Object{sourceConfigMap(sourcePayload)},
			want:    exitOK,
		},
		{
			name:     "volume list fails",
			objects:  []runtime.Object{sourceConfigMap(sourcePayload), localPV("pv-1", "node-1", "/mnt/a")},
			verb:     "list",
			resource: "persistentvolumes",
			reaction: failWith(errors.New("connection refused")),
			want:     exitFatal,
		},
		{
			name:    "source configmap missing",
			objects: []runtime.Object{localPV("pv-1", "node-1", "/mnt/a")},
			want:    exitFatal,
		},
		{
			name:    "malformed source",
			objects: []runtime.Object{sourceConfigMap("directories: [/a]\n---\nx: 1\n"), localPV("pv-1", "node-1", "/mnt/a")},
			want:    exitFatal,
		},
		{
			name:     "one node forbidden",
			objects:  []runtime.Object{sourceConfigMap(sourcePayload), localPV("pv-1", "node-1", "/mnt/a"), localPV("pv-2", "node-2", "/mnt/b")},
			verb:     "create",
			resource: "configmaps",
			reaction: forbidCreate("backup-config-node-2"),
			want:     exitPartial,
		},
		{
			name: "invalid configuration",
			env:  map[string]string{"LOG_LEVEL": "chatty"},
			want: exitFatal,
		},
		{
			name:      "client cannot be built",
			clientErr: errors.New("no kubeconfig"),
			want:      exitFatal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := fake.NewSimpleClientset(tt.objects...)
			if tt.reaction != nil {
				cs.PrependReactor(tt.verb, tt.resource, tt.reaction)
			}
			env := map[string]string{"NAMESPACE": testNamespace}
			for k, v := range tt.env {
				env[k] = v
			}
			factory := func(string, time.Duration) (kubernetes.Interface, error) {
				if tt.clientErr != nil {
					return nil, tt.clientErr
				}
				return cs, nil
			}

			got := run(context.Background(), zap.NewNop().Sugar(), zap.NewAtomicLevel(), env, factory)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRun_PartialFailureNamesNode(t *testing.T) {
	cs := fake.NewSimpleClientset(sourceConfigMap(sourcePayload), localPV("pv-1", "node-1", "/mnt/a"), localPV("pv-2", "node-2", "/mnt/b"))
	cs.PrependReactor("create", "configmaps", forbidCreate("backup-config-node-2"))
	core, logs := observer.New(zapcore.InfoLevel)
	factory := func(string, time.Duration) (kubernetes.Interface, error) { return cs, nil }

	code := run(context.Background(), zap.New(core).Sugar(), zap.NewAtomicLevel(), map[string]string{"NAMESPACE": testNamespace}, factory)
	assert.Equal(t, exitPartial, code)

	failed := logs.FilterMessage("some nodes failed").All()
	if assert.Len(t, failed, 1) {
		assert.Equal(t, []interface{}{"node-2"}, failed[0].ContextMap()["nodes"])
	}
	_, err := cs.CoreV1().ConfigMaps(testNamespace).Get(context.Background(), "backup-config-node-1", metav1.GetOptions{})
	assert.NoError(t, err, "healthy node is still written")
}

func TestRun_AppliesConfiguredLogLevel(t *testing.T) {
	level := zap.NewAtomicLevel()
	factory := func(string, time.Duration) (kubernetes.Interface, error) {
		return fake.NewSimpleClientset(sourceConfigMap(sourcePayload)), nil
	}

	code := run(context.Background(), zap.NewNop().Sugar(), level, map[string]string{"NAMESPACE": testNamespace, "LOG_LEVEL": "warn"}, factory)
	assert.Equal(t, exitOK, code)
	assert.Equal(t, zapcore.WarnLevel, level.Level())
}
