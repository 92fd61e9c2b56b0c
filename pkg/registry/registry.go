// Package registry resolves identifier namespaces by system code.
package registry

import (
	_ "embed"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"git.canoozie.net/riddling/xrefdb/pkg/model"
)

//go:embed datasources.yaml
var builtin []byte

// file is the on-disk layout of a datasource list
type file struct {
	DataSources []model.DataSource `yaml:"datasources"`
}

// Registry maps system codes to DataSources
type Registry struct {
	byCode map[string]model.DataSource
}

// New returns an empty registry
func New() *Registry {
	return &Registry{byCode: make(map[string]model.DataSource)}
}

// Initialize returns a registry holding the built-in datasources
func Initialize() (*Registry, error) {
	r := New()
	if err := r.load(builtin); err != nil {
		return nil, errors.Wrap(err, "loading built-in datasources")
	}
	return r, nil
}

// LoadFile adds the datasources listed in a YAML file. Entries replace
// registered datasources with the same system code.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	return errors.Wrapf(r.load(data), "loading %s", path)
}

// Load adds the datasources of a YAML document read from rd
func (r *Registry) Load(rd io.Reader) error {
	data, err := io.ReadAll(rd)
	if err != nil {
		return errors.Wrap(err, "reading datasources")
	}
	return r.load(data)
}

func (r *Registry) load(data []byte) error {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return errors.Wrap(err, "parsing datasources")
	}
	for i, ds := range f.DataSources {
		if ds.SystemCode == "" {
			return errors.Errorf("datasource %d has no system code", i)
		}
		r.Register(ds)
	}
	return nil
}

// Register adds or replaces a datasource
func (r *Registry) Register(ds model.DataSource) {
	r.byCode[ds.SystemCode] = ds
}

// ResolveBySystemCode returns the datasource registered under code.
// Codes are case-sensitive.
func (r *Registry) ResolveBySystemCode(code string) (model.DataSource, error) {
	ds, ok := r.byCode[code]
	if !ok {
		return model.DataSource{}, model.ErrUnknownSystemCode{Code: code}
	}
	return ds, nil
}

// All returns every registered datasource ordered by system code
func (r *Registry) All() []model.DataSource {
	all := make([]model.DataSource, 0, len(r.byCode))
	for _, ds := range r.byCode {
		all = append(all, ds)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].SystemCode < all[j].SystemCode })
	return all
}
