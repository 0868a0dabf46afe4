package cli

import (
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// profile is the optional YAML agent profile: prompts, budgets and
// timeouts that operators tune without rebuilding the binary
type profile struct {
	SystemPrompt string `yaml:"system_prompt"`
	MaxRetries   int    `yaml:"max_retries"`
	TokenBudget  int    `yaml:"token_budget"`
	TopK         int    `yaml:"top_k"`
	CallTimeout  string `yaml:"call_timeout"`
	CacheTTL     string `yaml:"cache_ttl"`
}

func defaultProfile() *profile {
	return &profile{
		MaxRetries:  2,
		TokenBudget: 4000,
		TopK:        5,
		CallTimeout: "60s",
		CacheTTL:    "1h",
	}
}

// loadProfile reads the profile file, filling defaults for missing
// values. An empty path returns the defaults.
func loadProfile(path string) (*profile, error) {
	p := defaultProfile()
	if path == "" {
		return p, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read agent profile", goerr.V("path", path))
	}

	var loaded profile
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return nil, goerr.Wrap(err, "failed to parse agent profile", goerr.V("path", path))
	}

	if loaded.SystemPrompt != "" {
		p.SystemPrompt = loaded.SystemPrompt
	}
	if loaded.MaxRetries > 0 {
		p.MaxRetries = loaded.MaxRetries
	}
	if loaded.TokenBudget > 0 {
		p.TokenBudget = loaded.TokenBudget
	}
	if loaded.TopK > 0 {
		p.TopK = loaded.TopK
	}
	if loaded.CallTimeout != "" {
		if _, err := time.ParseDuration(loaded.CallTimeout); err != nil {
			return nil, goerr.Wrap(err, "invalid call_timeout in agent profile")
		}
		p.CallTimeout = loaded.CallTimeout
	}
	if loaded.CacheTTL != "" {
		if _, err := time.ParseDuration(loaded.CacheTTL); err != nil {
			return nil, goerr.Wrap(err, "invalid cache_ttl in agent profile")
		}
		p.CacheTTL = loaded.CacheTTL
	}

	return p, nil
}

func (p *profile) callTimeout() time.Duration {
	d, err := time.ParseDuration(p.CallTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

func (p *profile) cacheTTL() time.Duration {
	d, err := time.ParseDuration(p.CacheTTL)
	if err != nil {
		return time.Hour
	}
	return d
}
