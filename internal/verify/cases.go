package verify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadCases reads differential cases from a YAML file. Cases without sampling
// overrides inherit the defaults of the canonical case so that both legs stay
// as deterministic as the backend allows.
func LoadCases(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read case file %s: %w", path, err)
	}

	var cases []Case
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("failed to parse case file %s: %w", path, err)
	}

	defaults := DefaultCase()
	for i := range cases {
		c := &cases[i]
		if c.Name == "" {
			c.Name = fmt.Sprintf("case-%d", i+1)
		}
		if len(c.Messages) == 0 {
			return nil, fmt.Errorf("case %q has no messages", c.Name)
		}
		if c.Temperature == nil {
			c.Temperature = defaults.Temperature
		}
		if c.Seed == nil {
			c.Seed = defaults.Seed
		}
		if c.MaxTokens == 0 {
			c.MaxTokens = defaults.MaxTokens
		}
		if c.TopK == nil {
			c.TopK = defaults.TopK
		}
		if c.RepetitionPenalty == nil {
			c.RepetitionPenalty = defaults.RepetitionPenalty
		}
		if c.ChatTemplateKwargs == nil {
			c.ChatTemplateKwargs = defaults.ChatTemplateKwargs
		}
	}
	return cases, nil
}
