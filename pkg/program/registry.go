// Copyright 2026 The stagemux Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package program

import (
	"github.com/stagemux/stagemux/pkg/private/serrors"
)

// Registry is an insertion ordered collection of named entities. Every entity
// is addressable by its name and by its id, which is its position in
// insertion order. The zero value is an empty registry.
type Registry[T any] struct {
	items  []T
	byName map[string]int
}

func (r *Registry[T]) add(name string, item T) (int, error) {
	if _, ok := r.byName[name]; ok {
		return 0, serrors.JoinNoStack(ErrDuplicateName, nil, "name", name)
	}
	if r.byName == nil {
		r.byName = make(map[string]int)
	}
	id := len(r.items)
	r.items = append(r.items, item)
	r.byName[name] = id
	return id, nil
}

// Lookup returns the entity registered under name.
func (r *Registry[T]) Lookup(name string) (T, bool) {
	id, ok := r.byName[name]
	if !ok {
		var zero T
		return zero, false
	}
	return r.items[id], true
}

// Get returns the entity with the given id.
func (r *Registry[T]) Get(id int) (T, bool) {
	if id < 0 || id >= len(r.items) {
		var zero T
		return zero, false
	}
	return r.items[id], true
}

// Len returns the number of registered entities.
func (r *Registry[T]) Len() int {
	return len(r.items)
}

// All returns the entities in id order.
func (r *Registry[T]) All() []T {
	return append([]T(nil), r.items...)
}
