package backup

import (
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/poggenpower/k8s-configmap-modifier/internal/document"
)

// Merge produces one document per node of volumes. Nodes without volumes get
// nothing, stale targets included.
func Merge(doc *document.Document, volumes NodeVolumeMap) map[string]*document.Document {
	existing := doc.Directories()
	out := make(map[string]*document.Document, len(volumes))
	for node, paths := range volumes {
		out[node] = doc.WithDirectories(MergeDirectories(existing, paths))
	}
	return out
}

// MergeDirectories returns existing followed by the discovered paths it does
// not already contain. Paths compare as exact strings; "/mnt/a" and
// "/mnt/a/" are different entries. Repeated entries keep their first
// position.
func MergeDirectories(existing, discovered []string) []string {
	seen := sets.New[string]()
	merged := make([]string, 0, len(existing)+len(discovered))
	for _, list := range [][]string{existing, discovered} {
		for _, p := range list {
			if seen.Has(p) {
				continue
			}
			seen.Insert(p)
			merged = append(merged, p)
		}
	}
	return merged
}
