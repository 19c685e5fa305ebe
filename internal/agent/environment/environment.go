// Package environment turns a model's cached environment and class files
// into its fixed runtime configuration.
package environment

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/kennethnrk/edgernetes-inference/internal/agent/cache"
	"github.com/kennethnrk/edgernetes-inference/internal/agent/preprocess"
	"github.com/kennethnrk/edgernetes-inference/internal/common/constants"
	"github.com/kennethnrk/edgernetes-inference/internal/common/errdefs"
	"github.com/kennethnrk/edgernetes-inference/internal/common/jsonutil"
	"github.com/kennethnrk/edgernetes-inference/internal/common/modelid"
)

// Environment is the cached environment.json, in document key order. It is
// read-only once loaded.
type Environment struct {
	obj *jsonutil.Object
}

// Keys returns the environment keys in document order.
func (e *Environment) Keys() []string {
	if e == nil || e.obj == nil {
		return nil
	}
	return e.obj.Keys()
}

func (e *Environment) Has(key string) bool {
	return e != nil && e.obj != nil && e.obj.Has(key)
}

// Decode unmarshals the value of key into v.
func (e *Environment) Decode(key string, v any) error {
	if e == nil || e.obj == nil {
		return fmt.Errorf("no environment loaded")
	}
	return e.obj.Decode(key, v)
}

// Bootstrap is everything a model needs from its cached configuration.
type Bootstrap struct {
	Environment   *Environment
	Classes       *ClassRegistry
	Preprocessing preprocess.Spec
	ResizeMethod  constants.ResizeMethod
}

// Load builds the runtime configuration of id from the cache. Only files in
// manifest are read.
func Load(store *cache.Store, id modelid.ID, manifest []string) (*Bootstrap, error) {
	log := logrus.WithField("model_id", id.String())

	var env *Environment
	if slices.Contains(manifest, constants.EnvironmentFile) {
		obj := jsonutil.NewObject()
		if err := store.LoadJSON(id, constants.EnvironmentFile, obj); err != nil {
			return nil, err
		}
		env = &Environment{obj: obj}
	}

	names, err := classNames(store, id, manifest, env)
	if err != nil {
		return nil, err
	}
	colors, err := colorMapping(env, names)
	if err != nil {
		return nil, err
	}

	if !env.Has(constants.EnvPreprocessing) {
		return nil, errdefs.New(errdefs.KindModelArtefact, "could not find `%s` key in environment file of %s", constants.EnvPreprocessing, id)
	}
	var rawSpec string
	if err := env.Decode(constants.EnvPreprocessing, &rawSpec); err != nil {
		return nil, errdefs.Wrap(errdefs.KindModelArtefact, err, "`%s` of %s is not a string", constants.EnvPreprocessing, id)
	}
	spec, err := preprocess.ParseSpec(rawSpec)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindModelArtefact, err, "invalid preprocessing spec for %s", id)
	}

	method := spec.ResizePolicy()
	log.Infof("Resize method is '%s'", method)

	return &Bootstrap{
		Environment:   env,
		Classes:       newClassRegistry(names, colors),
		Preprocessing: spec,
		ResizeMethod:  method,
	}, nil
}

func classNames(store *cache.Store, id modelid.ID, manifest []string, env *Environment) ([]string, error) {
	if slices.Contains(manifest, constants.ClassNamesFile) {
		names, err := store.LoadTextLines(id, constants.ClassNamesFile)
		if err == nil {
			return names, nil
		}
		// The ORT endpoint omits the class list for some models; fall back to
		// the environment's class map.
		if !errors.Is(err, errdefs.ErrCacheCorruption) || !env.Has(constants.EnvClassMap) {
			return nil, err
		}
		logrus.WithField("model_id", id.String()).WithError(err).
			Warn("Class names file not cached, using environment class map")
	}
	return classNamesFromEnvironment(env)
}

// classNamesFromEnvironment orders CLASS_MAP values by lexicographic key
// order. "10" sorts before "2"; that order is the class index contract.
func classNamesFromEnvironment(env *Environment) ([]string, error) {
	if env == nil {
		return nil, errdefs.New(errdefs.KindModelArtefact, "missing environment while attempting to get model class names")
	}
	var classMap map[string]string
	if !env.Has(constants.EnvClassMap) || env.Decode(constants.EnvClassMap, &classMap) != nil {
		return nil, errdefs.New(errdefs.KindModelArtefact, "missing `%s` in environment or `%s` is not a dict", constants.EnvClassMap, constants.EnvClassMap)
	}
	keys := make([]string, 0, len(classMap))
	for k := range classMap {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = classMap[k]
	}
	return names, nil
}

// colorMapping uses COLORS from the environment when it is a dict, or a JSON
// string holding one. Otherwise classes cycle through DefaultPalette.
func colorMapping(env *Environment, names []string) (map[string]string, error) {
	if env.Has(constants.EnvColors) {
		var colors map[string]string
		if err := env.Decode(constants.EnvColors, &colors); err == nil {
			return colors, nil
		}
		var encoded string
		if err := env.Decode(constants.EnvColors, &encoded); err == nil {
			if err := json.Unmarshal([]byte(encoded), &colors); err != nil {
				return nil, errdefs.Wrap(errdefs.KindModelArtefact, err, "decode `%s`", constants.EnvColors)
			}
			return colors, nil
		}
	}
	colors := make(map[string]string, len(names))
	for i, name := range names {
		colors[name] = DefaultPalette[i%len(DefaultPalette)]
	}
	return colors, nil
}
