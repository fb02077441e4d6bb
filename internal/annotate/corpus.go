package annotate

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/skobkin/llmsim-web/internal/sim"
)

//go:embed corpus.yaml
var defaultCorpus []byte

// Corpus holds the canned texts served when the model is unavailable.
type Corpus struct {
	Training        []string      `yaml:"training"`
	Inference       []string      `yaml:"inference"`
	Compare         CompareCorpus `yaml:"compare"`
	EmptyAnnotation string        `yaml:"empty_annotation"`
	EmptyCompare    string        `yaml:"empty_compare"`
}

// CompareCorpus holds the bullet-point summaries per workload.
type CompareCorpus struct {
	Training  string `yaml:"training"`
	Inference string `yaml:"inference"`
}

// DefaultCorpus returns the embedded corpus.
func DefaultCorpus() Corpus {
	corpus, err := ParseCorpus(defaultCorpus)
	if err != nil {
		panic(fmt.Sprintf("embedded corpus invalid: %v", err))
	}
	return corpus
}

// LoadCorpus reads a YAML corpus from path. Sections missing from the file
// keep their embedded defaults.
func LoadCorpus(path string) (Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Corpus{}, fmt.Errorf("read corpus: %w", err)
	}
	override, err := ParseCorpus(data)
	if err != nil {
		return Corpus{}, err
	}
	return DefaultCorpus().merge(override), nil
}

// ParseCorpus decodes a YAML corpus document.
func ParseCorpus(data []byte) (Corpus, error) {
	var corpus Corpus
	if err := yaml.Unmarshal(data, &corpus); err != nil {
		return Corpus{}, fmt.Errorf("decode corpus: %w", err)
	}
	return corpus, nil
}

// Annotation picks the canned log line for a step.
func (c Corpus) Annotation(mode sim.Mode, step int) string {
	lines := c.Inference
	if mode == sim.ModeTraining {
		lines = c.Training
	}
	if len(lines) == 0 {
		return c.EmptyAnnotation
	}
	if step < 0 {
		step = -step
	}
	return lines[step%len(lines)]
}

// CompareView returns the canned memory comparison.
func (c Corpus) CompareView(training bool) string {
	if training {
		return c.Compare.Training
	}
	return c.Compare.Inference
}

func (c Corpus) merge(o Corpus) Corpus {
	if len(o.Training) > 0 {
		c.Training = o.Training
	}
	if len(o.Inference) > 0 {
		c.Inference = o.Inference
	}
	if o.Compare.Training != "" {
		c.Compare.Training = o.Compare.Training
	}
	if o.Compare.Inference != "" {
		c.Compare.Inference = o.Compare.Inference
	}
	if o.EmptyAnnotation != "" {
		c.EmptyAnnotation = o.EmptyAnnotation
	}
	if o.EmptyCompare != "" {
		c.EmptyCompare = o.EmptyCompare
	}
	return c
}
