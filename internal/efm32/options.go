package efm32

import "time"

type config struct {
	pollTimeout time.Duration
}

func defaultConfig() config {
	return config{pollTimeout: DefaultPollTimeout}
}

// Option configures the driver.
type Option func(*config)

// WithPollTimeout bounds each busy wait of an erase operation.
func WithPollTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pollTimeout = d
		}
	}
}
