// Package config loads templock settings from a file and TEMPLOCK_* environment
// variables with viper, and turns them into a [templock.Config] and a
// [storage.Backend].
//
// Strategies can only come from the file. Every scalar setting can be
// overridden from the environment: redis.addr becomes TEMPLOCK_REDIS_ADDR.
package config
