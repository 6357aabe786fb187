package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/aretw0/audiencia/internal/logging"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidStoreKinds lists the accepted store.kind values.
func ValidStoreKinds() []string {
	return []string{StoreMemory, StoreFile, StoreRedis}
}

// Validate returns every problem found in c.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateAuthority()...)
	errs = append(errs, c.validateClient()...)
	if err := c.Sync.Validate(); err != nil {
		errs = append(errs, ValidationError{Field: "sync", Value: c.Sync, Message: err.Error()})
	}
	if err := c.Bot.Validate(); err != nil {
		errs = append(errs, ValidationError{Field: "bot", Value: c.Bot, Message: err.Error()})
	}
	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateLogging()...)
	return errs
}

func (c *Config) validateAuthority() []ValidationError {
	var errs []ValidationError
	if c.Authority.URL != "" {
		u, err := url.Parse(c.Authority.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{Field: "authority.url", Value: c.Authority.URL, Message: "must be an http or https URL"})
		}
	}
	if c.Authority.Timeout <= 0 {
		errs = append(errs, ValidationError{Field: "authority.timeout", Value: c.Authority.Timeout, Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateClient() []ValidationError {
	if c.Client.UserID < 0 {
		return []ValidationError{{Field: "client.user_id", Value: c.Client.UserID, Message: "must not be negative"}}
	}
	return nil
}

func (c *Config) validateStore() []ValidationError {
	var errs []ValidationError
	if !slices.Contains(ValidStoreKinds(), c.Store.Kind) {
		errs = append(errs, ValidationError{
			Field:   "store.kind",
			Value:   c.Store.Kind,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStoreKinds(), ", ")),
		})
	}
	switch c.Store.Kind {
	case StoreFile:
		if c.Store.Path == "" {
			errs = append(errs, ValidationError{Field: "store.path", Value: c.Store.Path, Message: "required for file store"})
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, ValidationError{Field: "store.redis_addr", Value: c.Store.RedisAddr, Message: "required for redis store"})
		}
		if c.Store.RedisDB < 0 {
			errs = append(errs, ValidationError{Field: "store.redis_db", Value: c.Store.RedisDB, Message: "must not be negative"})
		}
	}
	if c.Store.TTL < 0 {
		errs = append(errs, ValidationError{Field: "store.ttl", Value: c.Store.TTL, Message: "must not be negative"})
	}
	if key, err := c.EncryptionKey(); err != nil {
		errs = append(errs, ValidationError{Field: "store.encryption_key", Value: "<redacted>", Message: "must be base64"})
	} else if key != nil && len(key) != 32 {
		errs = append(errs, ValidationError{Field: "store.encryption_key", Value: "<redacted>", Message: fmt.Sprintf("must decode to 32 bytes, got %d", len(key))})
	}
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, ValidationError{Field: "logging.level", Value: c.Logging.Level, Message: "must be one of: debug, info, warn, error"})
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, ValidationError{Field: "logging.format", Value: c.Logging.Format, Message: "must be text or json"})
	}
	return errs
}
