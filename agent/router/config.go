package router

import "time"

type Config struct {
	AttemptCap int           `split_words:"true" default:"3"`
	MaxRetries int           `split_words:"true" default:"2"`
	RetryDelay time.Duration `split_words:"true" default:"200ms"`
	MaxHops    int           `split_words:"true" default:"3"`
}

func (c Config) withDefaults() Config {
	if c.AttemptCap <= 0 {
		c.AttemptCap = 3
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.MaxHops <= 0 {
		c.MaxHops = 3
	}
	return c
}
