package encoding

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// LoadAndUnmarshal provides the underlying loading and unmarshaling
// functionality for the encoding package. It reads the data at the specified
// path and then invokes the specified unmarshaling callback (usually a closure)
// to decode the data. Non-existence errors are passed through unwrapped so that
// callers can test them with os.IsNotExist.
func LoadAndUnmarshal(path string, unmarshal func([]byte) error) error {
	// Grab the file contents.
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return errors.Wrap(err, "unable to load file")
	}

	// Perform the unmarshaling.
	if err := unmarshal(data); err != nil {
		return errors.Wrap(err, "unable to unmarshal data")
	}

	// Success.
	return nil
}

// LoadAndUnmarshalByExtension loads data from the specified path and decodes it
// using TOML if the path has a .toml extension and YAML otherwise.
func LoadAndUnmarshalByExtension(path string, value interface{}) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return LoadAndUnmarshalTOML(path, value)
	}
	return LoadAndUnmarshalYAML(path, value)
}
