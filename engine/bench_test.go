package engine

import (
	"context"
	"encoding/json"
	"testing"

	"hubrpc/codec"
	"hubrpc/message"
	"hubrpc/middleware"
)

func benchPair(b *testing.B) *Connection {
	client, _ := pair(b, Options{}, Options{
		Handlers: map[string]middleware.HandlerFunc{"Echo": echo, "Count": count},
	})
	return client
}

// single goroutine, one call in flight
func BenchmarkSerialCall(b *testing.B) {
	client := benchPair(b)
	ctx := context.Background()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := client.Invoke(ctx, "Echo", i); err != nil {
			b.Fatal(err)
		}
	}
}

// many goroutines multiplexed over one connection
func BenchmarkConcurrentCall(b *testing.B) {
	client := benchPair(b)
	ctx := context.Background()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := client.Invoke(ctx, "Echo", "payload"); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func BenchmarkStreamItems(b *testing.B) {
	client := benchPair(b)
	ctx := context.Background()
	b.ResetTimer()

	s, err := client.InvokeStreaming(ctx, "Count", b.N)
	if err != nil {
		b.Fatal(err)
	}
	for _, err := range s.All(ctx) {
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCodecJSON(b *testing.B) {
	cdc := &codec.JSONCodec{}
	msg := message.NewInvocation("1", "Arith.Add", []json.RawMessage{json.RawMessage(`{"A":1,"B":2}`)})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := cdc.Encode(msg)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := cdc.Decode(data); err != nil {
			b.Fatal(err)
		}
	}
}
