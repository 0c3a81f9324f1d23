package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration that unmarshals from YAML either as a Go
// duration string ("5s", "1m30s") or as a bare integer number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	// Bare integers are seconds
	var secs int64
	if err := unmarshal(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}

	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Std returns the value as a standard time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns the duration in Go's duration syntax
func (d Duration) String() string {
	return time.Duration(d).String()
}
