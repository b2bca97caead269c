package contracts

// Subscription is a requested topic subscription. TopicFilter may contain
// broker wildcards ("+" single level, "#" multi level for MQTT).
type Subscription struct {
	TopicFilter string
	QoS         QoS
}

// Validate checks the subscription request is well formed.
func (s Subscription) Validate() error {
	if s.TopicFilter == "" {
		return ErrEmptyTopic
	}
	if !s.QoS.Valid() {
		return ErrInvalidQoS
	}
	return nil
}

// Grant is a broker-negotiated subscription: the filter plus the QoS the
// broker actually granted, which may be lower than requested.
type Grant struct {
	TopicFilter string
	QoS         QoS
}

// Rejected reports whether the broker refused this subscription.
func (g Grant) Rejected() bool {
	return g.QoS == GrantFailure
}
