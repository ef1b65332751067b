package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/praxislabs/praxis-agent/internal/config"
)

func testProvider() *Provider {
	return NewProvider(config.MQTTConfig{Broker: "mqtt://localhost:1883"}, "test", slog.Default())
}

func TestGet_DrainsBuffer(t *testing.T) {
	p := testProvider()
	p.receive("sensors/door", []byte("open"))
	p.receive("sensors/temp", []byte("21.5"))

	res, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !strings.Contains(res.Text, "[sensors/door] open") || !strings.Contains(res.Text, "[sensors/temp] 21.5") {
		t.Errorf("text = %q", res.Text)
	}
	if res.Data["count"] != 2 {
		t.Errorf("count = %v, want 2", res.Data["count"])
	}

	// Drained: a second collect sees nothing.
	res, err = p.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if res.Text != "" || len(res.Data) != 0 {
		t.Errorf("second get = %+v, want empty", res)
	}
}

func TestReceive_BufferBounded(t *testing.T) {
	p := testProvider()
	for i := 0; i < eventBufferSize+10; i++ {
		p.receive("t", []byte(fmt.Sprintf("m-%d", i)))
	}

	p.mu.Lock()
	n := len(p.events)
	last := p.events[n-1].Payload
	first := p.events[0].Payload
	p.mu.Unlock()

	if n != eventBufferSize {
		t.Errorf("buffered = %d, want %d", n, eventBufferSize)
	}
	if first != "m-10" || last != fmt.Sprintf("m-%d", eventBufferSize+9) {
		t.Errorf("buffer window = %s..%s, want oldest evicted", first, last)
	}
}

func TestRateLimiter(t *testing.T) {
	r := newMessageRateLimiter(3, time.Minute, slog.Default())

	for i := 0; i < 3; i++ {
		if !r.allow() {
			t.Fatalf("message %d dropped under the limit", i)
		}
	}
	if r.allow() {
		t.Error("message over the limit allowed")
	}
	if got := r.dropped.Load(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}

	// Interval reset restores capacity.
	r.count.Store(0)
	if !r.allow() {
		t.Error("message dropped after reset")
	}
}

func TestReceive_DropsOverRateLimit(t *testing.T) {
	p := testProvider()
	p.limiter = newMessageRateLimiter(1, time.Minute, slog.Default())

	p.receive("t", []byte("kept"))
	p.receive("t", []byte("dropped"))

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) != 1 || p.events[0].Payload != "kept" {
		t.Errorf("events = %+v, want only the first kept", p.events)
	}
}
