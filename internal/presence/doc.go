// Package presence tracks which actors have a live session attached to a
// thread. Sessions Join on subscribe, refresh periodically, and Leave on
// every exit path. MemoryTracker suits a single gateway; RedisTracker lets
// several gateways share one view and ages out entries from gateways that
// died without leaving.
package presence
