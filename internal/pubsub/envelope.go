package pubsub

import (
	"context"
	"encoding/json"
)

// Envelope wraps a frame published across nodes. Origin lets a node skip
// messages it published itself (the broker echoes publishes back to every
// subscriber, this node included). Exclude carries the sender exclusion a
// room fan-out on the receiving node must honor.
type Envelope struct {
	Origin  string          `json:"origin"`
	Exclude string          `json:"exclude,omitempty"`
	Frame   json.RawMessage `json:"frame"`
}

// WrapFrame encodes a frame into an envelope for publishing.
func WrapFrame(origin, exclude string, frame []byte) []byte {
	data, err := json.Marshal(Envelope{Origin: origin, Exclude: exclude, Frame: frame})
	if err != nil {
		return nil
	}
	return data
}

// UnwrapFrame decodes a published envelope.
func UnwrapFrame(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}

// OriginPublisher adapts a Broker into a plain topic publisher that stamps
// every frame with this node's origin.
type OriginPublisher struct {
	Broker Broker
	Origin string
}

func (p OriginPublisher) Publish(ctx context.Context, topic string, frame []byte) error {
	return p.Broker.Publish(ctx, topic, WrapFrame(p.Origin, "", frame))
}
