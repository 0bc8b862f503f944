package zip

import (
	"errors"

	"github.com/gobeaver/xmlmode"
)

func init() {
	xmlmode.RegisterDriver("zip", func(cfg *xmlmode.Config) (xmlmode.Source, error) {
		if cfg.ZipPath == "" {
			return nil, errors.New("zip driver requires ZipPath to be set to the ZIP file path")
		}
		return Open(cfg.ZipPath)
	})
}
