package config

import (
	"time"

	"gopkg.in/yaml.v3"

	"codexbridge/errors"
)

// Duration wraps time.Duration so YAML values like "90s" or "2m" parse.
// Bare integers are taken as seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asInt int64
	if err := value.Decode(&asInt); err == nil {
		*d = Duration(time.Duration(asInt) * time.Second)
		return nil
	}
	var asString string
	if err := value.Decode(&asString); err != nil {
		return errors.Wrapf(err, "invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", asString)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
