// Package tables loads the optional YAML file that overrides the built-in
// keyword lists, thresholds and reply templates.
package tables

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/blackmichael/fuwamoko-bot/internal/classify"
	"github.com/blackmichael/fuwamoko-bot/internal/reply"
)

// Tables groups every editable table.
type Tables struct {
	Classifier classify.Rules `yaml:"classifier"`
	Reply      reply.Tables   `yaml:"reply"`
}

// Defaults returns the built-in tables.
func Defaults() Tables {
	return Tables{
		Classifier: classify.DefaultRules(),
		Reply:      reply.DefaultTables(),
	}
}

// Load returns the defaults overlaid with the YAML file at path. Keys present
// in the file replace the default value. Lists are replaced whole; maps keep
// their other keys, but a key that is given replaces its whole value. An empty
// path returns the defaults.
func Load(path string) (Tables, error) {
	t := Defaults()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("read tables file: %w", err)
	}
	if err := Decode(data, &t); err != nil {
		return Tables{}, fmt.Errorf("parse tables file %s: %w", path, err)
	}
	return t, nil
}

// Decode overlays YAML data onto t. Unknown keys are an error so that typos
// do not silently fall back to the defaults.
func Decode(data []byte, t *Tables) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(t); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
