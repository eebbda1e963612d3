package backup

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
)

const (
	AppName      = "backup-config-sync"
	FieldManager = AppName

	LabelApp       = "app"
	LabelManagedBy = "app.kubernetes.io/managed-by"

	AnnotationNode   = "backupsync.k8s.io/node"
	AnnotationSource = "backupsync.k8s.io/source"
)

// TargetName returns the name of the ConfigMap owned by node.
func TargetName(prefix, node string) (string, error) {
	name := prefix + "-" + node
	if errs := validation.IsDNS1123Subdomain(name); len(errs) > 0 {
		return "", fmt.Errorf("invalid configmap name %q: %s", name, strings.Join(errs, "; "))
	}
	return name, nil
}

func targetLabels() map[string]string {
	return map[string]string{
		LabelApp:       AppName,
		LabelManagedBy: AppName,
	}
}

func targetAnnotations(namespace, source, node string) map[string]string {
	return map[string]string{
		AnnotationNode:   node,
		AnnotationSource: namespace + "/" + source,
	}
}
