// Package sink forwards broadcast thread events to external consumers.
//
// KafkaSink registers as a conversation.Observer. Each event is wrapped in a
// Record envelope and written to the configured topic keyed by thread ID,
// so consumers of one partition see a thread's events in publish order.
// When events.kafka.enabled is false no sink is registered at all.
package sink
