// Package contracts provides the core value types shared by every layer of mqmate.
//
// This package defines the vocabulary of the pub/sub wrapper:
//   - Message: An outbound publication (topic, opaque payload, delivery options)
//   - PublishOptions / QoS: Broker delivery options carried with each message
//   - Subscription / Grant: Requested and broker-negotiated topic subscriptions
//   - ConnectionState: The manager-tracked connection lifecycle state
//   - StateChange / Event: Typed lifecycle notifications emitted by transports
//
// Payloads are opaque byte sequences; their encoding is an agreement between
// publisher and subscriber, never interpreted by mqmate itself.
package contracts
