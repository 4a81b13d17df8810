package config

import (
	_ "embed"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed instrument_types.yaml
var defaultCatalog []byte

// Catalog maps human instrument type names to clerk search codes.
// Several names may share one code.
type Catalog struct {
	byName map[string]string
}

// CodeGroup is one clerk code together with the names requested under it
type CodeGroup struct {
	Code  string
	Names []string
}

// LoadInstrumentTypes loads the catalog from a YAML or JSON file.
// An empty path loads the built-in catalog.
func LoadInstrumentTypes(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "config: read instrument types file")
		}
	}
	return ParseInstrumentTypes(data)
}

// ParseInstrumentTypes parses a name -> code mapping
func ParseInstrumentTypes(data []byte) (*Catalog, error) {
	byName := make(map[string]string)
	if err := yaml.Unmarshal(data, &byName); err != nil {
		return nil, eris.Wrap(err, "config: parse instrument types")
	}
	if len(byName) == 0 {
		return nil, eris.New("config: instrument types catalog is empty")
	}
	return &Catalog{byName: byName}, nil
}

// Names returns all instrument type names, sorted
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Code returns the clerk code for a name
func (c *Catalog) Code(name string) (string, bool) {
	code, ok := c.byName[name]
	return code, ok
}

// NameForCode returns a human name for a clerk code, or the code itself when unknown.
// When several names share the code the alphabetically first one is used.
func (c *Catalog) NameForCode(code string) string {
	if code == "" {
		return ""
	}
	for _, name := range c.Names() {
		if c.byName[name] == code {
			return name
		}
	}
	return code
}

// Label names a record's instrument type from its clerk code. Without a code
// (or a catalog) the label it was searched under is used instead.
func (c *Catalog) Label(code, searchedAs string) string {
	if code == "" || c == nil {
		if searchedAs != "" {
			return searchedAs
		}
		return code
	}
	return c.NameForCode(code)
}

// GroupByCode groups the requested names by code so each code is searched once.
// Groups keep the order in which their code first appears.
func (c *Catalog) GroupByCode(names []string) ([]CodeGroup, error) {
	var groups []CodeGroup
	index := make(map[string]int)

	for _, name := range names {
		code, ok := c.byName[name]
		if !ok {
			return nil, eris.Errorf("config: unknown instrument type %q", name)
		}
		if i, seen := index[code]; seen {
			groups[i].Names = append(groups[i].Names, name)
			continue
		}
		index[code] = len(groups)
		groups = append(groups, CodeGroup{Code: code, Names: []string{name}})
	}

	return groups, nil
}
