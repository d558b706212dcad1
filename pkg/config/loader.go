package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// entry holds the parse result for a single configuration type.
type entry struct {
	once  sync.Once
	value any
	err   error
}

var (
	entries   sync.Map // reflect.Type -> *entry
	dotenvRun sync.Once
)

// Load fills v from the environment. The first successful parse of a type is
// cached and copied into v on every subsequent call; a failed parse is cached
// as well, so callers see a stable error until Reset is called.
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	dotenvRun.Do(func() {
		// A missing .env file is normal outside local development.
		_ = godotenv.Load()
	})

	key := reflect.TypeFor[T]()
	raw, _ := entries.LoadOrStore(key, &entry{})
	e := raw.(*entry)

	e.once.Do(func() {
		var parsed T
		if err := env.Parse(&parsed); err != nil {
			e.err = errors.Join(ErrParsingConfig, err)
			return
		}
		e.value = parsed
	})

	if e.err != nil {
		return e.err
	}
	*v = e.value.(T)
	return nil
}

// MustLoad is Load that panics on failure.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: failed to load %s: %v", reflect.TypeFor[T](), err))
	}
}

// Reset drops every cached configuration.
func Reset() {
	entries.Range(func(key, _ any) bool {
		entries.Delete(key)
		return true
	})
}
