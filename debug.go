package main

import (
	"log/slog"
	"net/http"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/randilt/geckomem/memstore"
)

// treeEntry is one node of the YAML tree dump.
type treeEntry struct {
	Name     string       `yaml:"name"`
	Dir      bool         `yaml:"dir,omitempty"`
	Size     int64        `yaml:"size,omitempty"`
	Children []*treeEntry `yaml:"children,omitempty"`
}

// buildTree mirrors the storage tree as treeEntry values.
func buildTree(store *memstore.Storage) (*treeEntry, error) {
	root := &treeEntry{Name: memstore.RootKey, Dir: true}
	index := map[string]*treeEntry{"": root}

	err := store.Walk("", func(path string, info memstore.Info) error {
		parent := root
		if i := strings.LastIndex(path, "/"); i >= 0 {
			parent = index[path[:i]]
		}
		entry := &treeEntry{Name: info.Key, Dir: info.IsDir, Size: info.Size}
		parent.Children = append(parent.Children, entry)
		if info.IsDir {
			index[path] = entry
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}

// debugTreeHandler serves the storage tree, indented text by default or YAML
// with ?format=yaml.
func debugTreeHandler(store *memstore.Storage, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") == "yaml" {
			tree, err := buildTree(store)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			out, err := yaml.Marshal(tree)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/yaml")
			w.Write(out)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := store.Dump(w); err != nil {
			logger.Error("dumping tree", "error", err)
		}
	})
}
