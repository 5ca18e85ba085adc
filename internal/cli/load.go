package cli

import (
	"fmt"
	"os"

	"github.com/heig-tin-info/baygon2/internal/loader"
	"github.com/heig-tin-info/baygon2/internal/schema"
)

// defaultDocuments are probed in order when no --config is given.
var defaultDocuments = []string{"baygon.yml", "baygon.yaml", "baygon.json", "tests.yml", "tests.yaml"}

// loadDocument locates, parses and normalizes the test document. An
// explicit positional argument wins over --config, which wins over
// auto-discovery.
func loadDocument(opts *RootOptions, reg *schema.Registry, arg string) (*schema.Spec, string, error) {
	path := arg
	if path == "" {
		path = opts.Config
	}
	if path == "" {
		found, err := discoverDocument()
		if err != nil {
			return nil, "", err
		}
		path = found
	}

	node, err := loader.LoadFile(path, loader.FormatAuto)
	if err != nil {
		return nil, path, err
	}
	spec, err := schema.Normalize(node, reg)
	if err != nil {
		return nil, path, err
	}
	return spec, path, nil
}

func discoverDocument() (string, error) {
	for _, candidate := range defaultDocuments {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no test document found (tried %v); use --config", defaultDocuments)
}
