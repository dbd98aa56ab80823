// Package outbox moves domain events from the outbox table to the message
// channel. The same Publisher serves the post-commit fast path and the
// scheduled drain, so both paths share retry accounting.
package outbox

import "context"

// Channel delivers one payload to a topic. key selects the partition so
// events of one aggregate keep their order.
type Channel interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, topic, key string, payload []byte) error

func (f ChannelFunc) Publish(ctx context.Context, topic, key string, payload []byte) error {
	return f(ctx, topic, key, payload)
}
