package registry

import (
	"fmt"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
)

type declaredVersion struct {
	Hash    string `koanf:"hash"`
	Decoder string `koanf:"decoder"`
}

type declaredItem struct {
	Section  string            `koanf:"section"`
	Name     string            `koanf:"name"`
	Kind     string            `koanf:"kind"`
	Hashers  []string          `koanf:"hashers"`
	Versions []declaredVersion `koanf:"versions"`
}

type declarations struct {
	Items []declaredItem `koanf:"items"`
}

// LoadDeclarations builds a registry from the YAML declarations file at `path`.
func LoadDeclarations(path string) (*Registry, error) {
	return loadDeclarations(file.Provider(path))
}

// ParseDeclarations builds a registry from YAML declarations.
func ParseDeclarations(raw []byte) (*Registry, error) {
	return loadDeclarations(rawbytes.Provider(raw))
}

func loadDeclarations(p koanf.Provider) (*Registry, error) {
	var decls declarations
	k := koanf.New(".")
	if err := k.Load(p, yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading declarations: %w", err)
	}
	if err := k.Unmarshal("", &decls); err != nil {
		return nil, fmt.Errorf("decoding declarations: %w", err)
	}

	b := NewBuilder()
	for _, d := range decls.Items {
		item := ItemIdentity{Section: d.Section, Name: d.Name}
		hashers := make([]Hasher, len(d.Hashers))
		for i, h := range d.Hashers {
			hashers[i] = Hasher(h)
		}
		b.Declare(ItemSchema{Item: item, Kind: Kind(d.Kind), Hashers: hashers})
		for _, v := range d.Versions {
			b.Register(item, v.Hash, DecoderID(v.Decoder))
		}
	}
	return b.Build()
}
