package kube

import (
	"os"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const serviceAccountTokenFile = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// NewClient creates a Kubernetes clientset using in-cluster config if present
// and no kubeconfig was given, otherwise falls back to the kubeconfig loading
// rules. timeout bounds every request made through the client.
func NewClient(kubeconfig string, timeout time.Duration) (*kubernetes.Clientset, error) {
	cfg, err := newRestConfig(kubeconfig, timeout)
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(cfg)
}

func newRestConfig(kubeconfig string, timeout time.Duration) (*rest.Config, error) {
	cfg, err := restConfig(kubeconfig)
	if err != nil {
		return nil, err
	}
	cfg.Timeout = timeout
	cfg.UserAgent = "backup-config-sync"
	return cfg, nil
}

func restConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		if _, err := os.Stat(serviceAccountTokenFile); err == nil {
			return rest.InClusterConfig()
		}
	}
	return loader(kubeconfig).ClientConfig()
}

// ContextNamespace returns the namespace of the current kubeconfig context,
// "default" when the context names none. It fails when no usable context
// exists.
func ContextNamespace(kubeconfig string) (string, error) {
	ns, _, err := loader(kubeconfig).Namespace()
	return ns, err
}

func loader(kubeconfig string) clientcmd.ClientConfig {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{})
}
