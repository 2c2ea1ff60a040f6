package cache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/brantberg/rest-query-cache/pkg/query"
)

// DeriveKey derives the cache key for a range-style query.
// Format: connection:entity:operation when the params carry no query
// semantics, otherwise connection:entity:operation:<hash> where hash is
// the xxhash64 of the canonical params serialization, rendered as 16
// hex digits.
//
// Offset and limit never participate: different windows of the same
// logical query collapse to one key so their records can share a
// single range-indexed entry.
//
// DeriveKey never fails. When the params cannot be serialized (a
// custom value holding a NaN, a channel, a function) it falls back to
// a djb2 hash of the params' printed form, which is still
// deterministic for a given process.
//
// Example:
//
//	b1:Products:query:8f3c09d21a4be770
func DeriveKey(connection, entity, operation string, params *query.Params) string {
	return deriveKey(connection, entity, operation, params, false)
}

// DeriveResponseKey derives the cache key for a whole-response query.
// Unlike DeriveKey it includes offset and limit in the hash: each
// distinct window is its own cached response.
func DeriveResponseKey(connection, entity, operation string, params *query.Params) string {
	return deriveKey(connection, entity, operation, params, true)
}

// KeyPrefix returns the common prefix of every key derived for the
// given connection and entity, for use with prefix invalidation.
func KeyPrefix(connection, entity string) string {
	return connection + ":" + entity + ":"
}

func deriveKey(connection, entity, operation string, params *query.Params, withPagination bool) string {
	prefix := connection + ":" + entity + ":" + operation

	if params.IsEmpty(withPagination) {
		return prefix
	}

	var canonical []byte
	var err error
	if withPagination {
		canonical, err = params.CanonicalWithPagination()
	} else {
		canonical, err = params.Canonical()
	}
	if err != nil {
		log.Warn().
			Err(err).
			Str("key_prefix", prefix).
			Msg("Params not serializable, using fallback hash")
		return prefix + ":" + fmt.Sprintf("%016x", djb2(fmt.Sprintf("%+v", *params)))
	}

	return prefix + ":" + fmt.Sprintf("%016x", xxhash.Sum64(canonical))
}

// djb2 hashes the printed form of params that defeat JSON
// serialization. Equal inputs hash equal within a process.
func djb2(s string) uint64 {
	var h uint64 = 5381
	for i := 0; i < len(s); i++ {
		h = h*33 + uint64(s[i])
	}
	return h
}
