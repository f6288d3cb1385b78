/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package env reads typed values from the environment. Flag defaults come
// from here so every option is settable without templating argv.
package env

import (
	"os"
	"strconv"
)

// WithDefaultString returns the environment value for key, or def when unset.
func WithDefaultString(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

// WithDefaultInt returns the integer environment value for key. Unset or
// unparseable values yield def.
func WithDefaultInt(key string, def int) int {
	return parsed(key, def, strconv.Atoi)
}

// WithDefaultBool returns the boolean environment value for key. Unset or
// unparseable values yield def.
func WithDefaultBool(key string, def bool) bool {
	return parsed(key, def, strconv.ParseBool)
}

func parsed[T any](key string, def T, parse func(string) (T, error)) T {
	val, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	v, err := parse(val)
	if err != nil {
		return def
	}
	return v
}
