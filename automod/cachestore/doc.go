// Cache for small JSON documents (eg, per-chat moderation configuration) with a fixed TTL and explicit purging.
//
// Includes an interface and implementations using redis and in-process memory. Cache misses are not errors: Get returns an empty string.
package cachestore
