package local

import "github.com/gobeaver/xmlmode"

func init() {
	xmlmode.RegisterDriver("local", func(cfg *xmlmode.Config) (xmlmode.Source, error) {
		return New(cfg.LocalBasePath)
	})
}
