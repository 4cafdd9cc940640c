// Object pools for the G-code parsing hot path
//
// A full program can run to hundreds of thousands of lines; pooling the
// per-line parameter maps and the serialization builders keeps the three
// pipeline stages from churning the GC.
//
// Usage:
//
//	params := pool.GetParamsMap()
//	defer pool.PutParamsMap(params)
//	// use params...
//
// Copyright (C) 2026  Bend5x Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pool

import (
	"strings"
	"sync"
)

// ParamsMap pool - for G-code letter-parameter maps
var paramsMapPool = sync.Pool{
	New: func() any {
		return make(map[byte]string, 8) // X Y Z E F A B plus slack
	},
}

// GetParamsMap gets a parameter map from the pool
func GetParamsMap() map[byte]string {
	return paramsMapPool.Get().(map[byte]string)
}

// PutParamsMap returns a parameter map to the pool after clearing it
func PutParamsMap(m map[byte]string) {
	if m == nil {
		return
	}
	clear(m)
	paramsMapPool.Put(m)
}

// Builder pool - for line serialization
var builderPool = sync.Pool{
	New: func() any {
		return &strings.Builder{}
	},
}

// GetBuilder gets a reset strings.Builder from the pool
func GetBuilder() *strings.Builder {
	b := builderPool.Get().(*strings.Builder)
	b.Reset()
	return b
}

// PutBuilder returns a builder to the pool
func PutBuilder(b *strings.Builder) {
	if b == nil {
		return
	}
	builderPool.Put(b)
}
