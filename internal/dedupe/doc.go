// Package dedupe provides a time-windowed cache that suppresses repeats of
// the same value per key, used to coalesce bursts of identical ephemeral
// events such as typing indicators.
package dedupe
