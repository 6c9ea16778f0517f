// Package definition loads YAML searcher definitions, validates them and
// serves them from a registry that can be swapped atomically on reload.
package definition

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/portico/model"
)

// Load reads every definition file under dirs. Files are returned in lexical
// path order so that registry checksums do not depend on directory listing
// order. Hidden files and directories are skipped.
func Load(dirs []string) ([]model.DefinitionFile, error) {
	var paths []string
	for _, dir := range dirs {
		found, err := definitionFiles(dir)
		if err != nil {
			return nil, fmt.Errorf("definitions: scan %s: %w", dir, err)
		}
		paths = append(paths, found...)
	}
	slices.Sort(paths)

	defs := make([]model.DefinitionFile, 0, len(paths))
	for _, p := range paths {
		def, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// ParseFile decodes one definition file and stamps it with its path and the
// hex SHA-256 of its raw bytes.
func ParseFile(path string) (model.DefinitionFile, error) {
	var def model.DefinitionFile

	raw, err := os.ReadFile(path)
	if err != nil {
		return def, fmt.Errorf("definitions: %w", err)
	}
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return def, fmt.Errorf("definitions: parse %s: %w", path, err)
	}

	sum := sha256.Sum256(raw)
	def.Checksum = hex.EncodeToString(sum[:])
	def.SourceFile = path
	return def, nil
}

// LoadAndValidate loads the definitions under dirs and rejects the whole set
// when any of them is invalid.
func LoadAndValidate(dirs []string) ([]model.DefinitionFile, error) {
	defs, err := Load(dirs)
	if err != nil {
		return nil, err
	}
	verrs := NewValidator().Validate(defs)
	if len(verrs) == 0 {
		return defs, nil
	}
	errs := make([]error, len(verrs))
	for i := range verrs {
		errs[i] = verrs[i]
	}
	return nil, fmt.Errorf("definitions: invalid: %w", errors.Join(errs...))
}

func definitionFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case path != root && strings.HasPrefix(d.Name(), "."):
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		case !d.IsDir() && isDefinitionFile(path):
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

func isDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
