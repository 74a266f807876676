package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags first, then the cross-field rules tags cannot
// express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if cfg.Metadata.Backend == "badger" && !cfg.Metadata.Badger.InMemory && cfg.Metadata.Badger.Dir == "" {
		return fmt.Errorf("metadata.badger.dir: required unless inMemory is set")
	}
	if cfg.Watcher.Enabled && cfg.Watcher.ForgetDeletedAfter < cfg.Maintenance.TombstoneTTL {
		return fmt.Errorf("watcher.forgetDeletedAfter: must be at least maintenance.tombstoneTTL (%v)", cfg.Maintenance.TombstoneTTL)
	}
	if cfg.Watcher.PublishToKafka && !cfg.Kafka.Enabled {
		return fmt.Errorf("watcher.publishToKafka: kafka must be enabled")
	}
	if cfg.Kafka.Enabled && cfg.Kafka.Topics.FileEvents == "" {
		return fmt.Errorf("kafka.topics.fileEvents: required when kafka is enabled")
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("config %s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return fmt.Errorf("config: %w", err)
}
