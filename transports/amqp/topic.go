package amqp

import "strings"

// MQTT topics and AMQP routing keys carry the same hierarchy with swapped
// delimiters and wildcards: "/" maps to ".", the single-level "+" maps to
// "*", and "#" matches any remainder in both dialects. Topic segments must
// not themselves contain dots or the mapping cannot round-trip.

// routingKey converts an MQTT topic to an AMQP routing key.
func routingKey(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

// bindingPattern converts an MQTT topic filter to an AMQP binding pattern.
func bindingPattern(filter string) string {
	pattern := strings.ReplaceAll(filter, "/", ".")
	return strings.ReplaceAll(pattern, "+", "*")
}

// topicFromRoutingKey converts a delivery's routing key back to topic form.
func topicFromRoutingKey(key string) string {
	return strings.ReplaceAll(key, ".", "/")
}
