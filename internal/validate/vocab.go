package validate

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed vocab.yaml
var defaultVocabYAML []byte

// Vocabulary holds the canonical value sets used by the array and capacity
// validators.
type Vocabulary struct {
	CargoTypes    []string `yaml:"cargo_types"`
	CapacityUnits []string `yaml:"capacity_units"`
}

type vocabFile struct {
	Vocabulary Vocabulary `yaml:"vocabulary"`
}

// DefaultVocabulary parses the embedded vocabulary. It panics on a malformed
// embedded file, which can only happen at build time.
func DefaultVocabulary() Vocabulary {
	var f vocabFile
	if err := yaml.Unmarshal(defaultVocabYAML, &f); err != nil {
		panic("validate: embedded vocab.yaml is malformed: " + err.Error())
	}
	return f.Vocabulary
}

// LoadVocabulary reads a vocabulary override file. Missing sections fall
// back to the embedded defaults.
func LoadVocabulary(path string) (Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, eris.Wrapf(err, "validate: read vocabulary %s", path)
	}

	var f vocabFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Vocabulary{}, eris.Wrap(err, "validate: parse vocabulary")
	}

	def := DefaultVocabulary()
	if len(f.Vocabulary.CargoTypes) == 0 {
		f.Vocabulary.CargoTypes = def.CargoTypes
	}
	if len(f.Vocabulary.CapacityUnits) == 0 {
		f.Vocabulary.CapacityUnits = def.CapacityUnits
	}
	return f.Vocabulary, nil
}
