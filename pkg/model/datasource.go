package model

// DataSource describes an identifier namespace, for example a knowledge base
// or a pathway catalog. DataSources are resolved by their short system code.
type DataSource struct {
	SystemCode string `yaml:"code"`
	FullName   string `yaml:"name"`
	Type       string `yaml:"type"`
	URL        string `yaml:"url,omitempty"`
	URNBase    string `yaml:"urn,omitempty"`
	Primary    bool   `yaml:"primary,omitempty"`
}

// String returns the full name, falling back to the system code
func (ds DataSource) String() string {
	if ds.FullName != "" {
		return ds.FullName
	}
	return ds.SystemCode
}
