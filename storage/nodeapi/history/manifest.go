package history

import (
	"fmt"
	"sort"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"

	"github.com/oasisprotocol/chainview/registry"
)

// Record lists the type hashes of every item present in a runtime, from
// SpecVersion until the next record's SpecVersion.
type Record struct {
	SpecVersion uint32 `koanf:"spec_version"`
	// Items maps section -> name -> type hash.
	Items map[string]map[string]string `koanf:"items"`
}

// TypeHash returns the hash of (section, name), or ok=false if the item does
// not exist in this runtime.
func (r *Record) TypeHash(section string, name string) (string, bool) {
	hash, ok := r.Items[section][name]
	return hash, ok
}

// Manifest holds the type hash history of a chain. Records are kept sorted
// by descending SpecVersion.
type Manifest struct {
	Records []*Record `koanf:"records"`
}

func (m *Manifest) CurrentRecord() *Record {
	return m.Records[0]
}

func (m *Manifest) EarliestRecord() *Record {
	return m.Records[len(m.Records)-1]
}

// RecordForSpecVersion returns the record in effect for runtime `specVersion`:
// the one with the greatest SpecVersion not above it.
func (m *Manifest) RecordForSpecVersion(specVersion uint32) (*Record, error) {
	for _, r := range m.Records {
		if specVersion >= r.SpecVersion {
			return r, nil
		}
	}
	return nil, fmt.Errorf(
		"spec version %d earlier than earliest manifest record %d",
		specVersion,
		m.EarliestRecord().SpecVersion,
	)
}

func (m *Manifest) normalize() error {
	if len(m.Records) == 0 {
		return fmt.Errorf("manifest has no records")
	}
	sort.Slice(m.Records, func(i, j int) bool {
		return m.Records[i].SpecVersion > m.Records[j].SpecVersion
	})
	for i, r := range m.Records {
		if i > 0 && m.Records[i-1].SpecVersion == r.SpecVersion {
			return fmt.Errorf("duplicate manifest record for spec version %d", r.SpecVersion)
		}
		for section, names := range r.Items {
			for name, hash := range names {
				if hash == "" {
					return fmt.Errorf("spec version %d: empty type hash for %s.%s", r.SpecVersion, section, name)
				}
				names[name] = registry.NormalizeHash(hash)
			}
		}
	}
	return nil
}

// LoadManifest reads a YAML manifest from `path`.
func LoadManifest(path string) (*Manifest, error) {
	return loadManifest(file.Provider(path))
}

// ParseManifest parses a YAML manifest.
func ParseManifest(raw []byte) (*Manifest, error) {
	return loadManifest(rawbytes.Provider(raw))
}

func loadManifest(p koanf.Provider) (*Manifest, error) {
	var m Manifest
	k := koanf.New(".")
	if err := k.Load(p, yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	if err := k.Unmarshal("", &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if err := m.normalize(); err != nil {
		return nil, err
	}
	return &m, nil
}
