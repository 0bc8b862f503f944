package memory

import "github.com/gobeaver/xmlmode"

func init() {
	xmlmode.RegisterDriver("memory", func(cfg *xmlmode.Config) (xmlmode.Source, error) {
		return New(), nil
	})
}
