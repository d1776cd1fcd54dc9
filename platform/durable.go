package platform

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

// DurableBuffer holds platform event envelopes in a Redis-backed Pulse
// stream (Append) and reads them back (Drain). Stream has no hook for one:
// events Stream drops on queue overflow are not written to a DurableBuffer.
//
// Modeled directly on the teacher's Pulse client wrapper: a Redis
// connection backs a single named stream, and Add publishes one entry per
// event.
type DurableBuffer struct {
	stream *streaming.Stream
}

// NewDurableBuffer opens (creating if needed) a Pulse stream named for the
// run, backed by redisClient, to hold overflowed platform events.
func NewDurableBuffer(redisClient *redis.Client, runID string) (*DurableBuffer, error) {
	name := "qym:platform-overflow:" + runID
	str, err := streaming.NewStream(name, redisClient, streamopts.WithStreamMaxLen(10_000))
	if err != nil {
		return nil, fmt.Errorf("platform: open durable overflow stream: %w", err)
	}
	return &DurableBuffer{stream: str}, nil
}

// Append persists one overflowed envelope.
func (b *DurableBuffer) Append(ctx context.Context, env envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = b.stream.Add(ctx, string(env.EventType), payload)
	return err
}

// Drain creates a one-shot consumer group, reads every buffered event, and
// destroys the stream once fully acknowledged. Intended to be called once
// at the start of a resumed run, feeding the returned events back into a
// fresh Stream's Emit before live delivery resumes.
func (b *DurableBuffer) Drain(ctx context.Context) ([]envelope, error) {
	sink, err := b.stream.NewSink(ctx, "drain", streamopts.WithSinkBlockDuration(0))
	if err != nil {
		return nil, fmt.Errorf("platform: open drain sink: %w", err)
	}
	defer sink.Close(ctx)

	var out []envelope
	for {
		select {
		case ev, ok := <-sink.Subscribe():
			if !ok {
				return out, b.stream.Destroy(ctx)
			}
			var decoded envelope
			if err := json.Unmarshal(ev.Payload, &decoded); err == nil {
				out = append(out, decoded)
			}
			_ = sink.Ack(ctx, ev)
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}
