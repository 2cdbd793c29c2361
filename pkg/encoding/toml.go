package encoding

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// LoadAndUnmarshalTOML loads data from the specified path and decodes it into
// the specified structure. Keys without a corresponding field are treated as
// errors.
func LoadAndUnmarshalTOML(path string, value interface{}) error {
	return LoadAndUnmarshal(path, func(data []byte) error {
		metadata, err := toml.Decode(string(data), value)
		if err != nil {
			return err
		}
		if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
			return errors.Errorf("unknown configuration key: %s", undecoded[0].String())
		}
		return nil
	})
}
