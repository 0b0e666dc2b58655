package metastore

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/xerrors"
)

// LoadFile reads a YAML (or JSON) document mapping keys to property maps:
//
//	/content/dam/site/hero.jpg/jcr:content/metadata:
//	  dam:scene7FileStatus: PublishComplete
//	  dam:scene7Domain: https://img.example.com/
//	  dam:scene7File: site/hero
//
// Null properties are treated as absent, other scalars are stored as text.
func LoadFile(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read metadata file %s", path)
	}
	return ParseDocument(data)
}

// ParseDocument parses the LoadFile format from memory.
func ParseDocument(data []byte) (*Map, error) {
	var doc map[string]map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, xerrors.Wrap(err, "parse metadata document")
	}
	out := make(map[string]Record, len(doc))
	for key, props := range doc {
		rec := make(Record, len(props))
		for name, v := range props {
			switch v := v.(type) {
			case nil:
			case string:
				rec[name] = v
			case map[string]any, []any:
				return nil, xerrors.Newf("metadata %s property %s is not a scalar", key, name)
			default:
				rec[name] = fmt.Sprint(v)
			}
		}
		out[key] = rec
	}
	return NewMap(out), nil
}
