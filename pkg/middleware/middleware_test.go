package middleware

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/meshsync-dev/meshsync/pkg/protocol"
)

func metricCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestPrometheusCountsMessages(t *testing.T) {
	reg := prometheus.NewRegistry()
	mw := Prometheus(WithRegistry(reg), WithNamespace("test"))

	msg := protocol.New(&protocol.Heartbeat{})
	if out := mw.BeforeSend(msg); out != msg {
		t.Fatal("metrics middleware must pass messages through")
	}
	mw.BeforeSend(protocol.New(&protocol.Heartbeat{}))
	if out := mw.BeforeRecv(msg); out != msg {
		t.Fatal("metrics middleware must pass messages through")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	values := map[string]float64{}
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			values[fam.GetName()] += m.GetCounter().GetValue()
		}
	}
	if values["test_messages_sent_total"] != 2 {
		t.Fatalf("sent = %v, want 2", values["test_messages_sent_total"])
	}
	if values["test_messages_received_total"] != 1 {
		t.Fatalf("received = %v, want 1", values["test_messages_received_total"])
	}
}

func TestPrometheusCountsReplies(t *testing.T) {
	reg := prometheus.NewRegistry()
	mw := Prometheus(WithRegistry(reg))

	req := protocol.New(&protocol.Heartbeat{})
	mw.BeforeSend(req)
	mw.BeforeRecv(protocol.NewReply(req, &protocol.HeartbeatReply{}))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != "meshsync_replies_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetValue() == "in" && m.GetCounter().GetValue() != 1 {
					t.Fatalf("replies in = %v, want 1", m.GetCounter().GetValue())
				}
			}
		}
		return
	}
	t.Fatal("meshsync_replies_total not registered")
}

func TestOpenTelemetryPassesMessagesThrough(t *testing.T) {
	extracted := 0
	mw := OpenTelemetry(
		WithTracerName("test"),
		WithSessionID("sess-1"),
		WithAttributeExtractor(func(msg *protocol.Message) []attribute.KeyValue {
			extracted++
			return []attribute.KeyValue{attribute.String("test.attr", "ok")}
		}),
	)

	msg := protocol.New(&protocol.Heartbeat{})
	if out := mw.BeforeSend(msg); out != msg {
		t.Fatal("otel middleware must pass messages through")
	}
	if out := mw.BeforeRecv(msg); out != msg {
		t.Fatal("otel middleware must pass messages through")
	}
	if extracted != 2 {
		t.Fatalf("extractor ran %d times, want 2", extracted)
	}
}

func TestOpenTelemetryFilterSkips(t *testing.T) {
	extracted := 0
	mw := OpenTelemetry(
		WithMessageFilter(func(msg *protocol.Message) bool { return false }),
		WithAttributeExtractor(func(msg *protocol.Message) []attribute.KeyValue {
			extracted++
			return nil
		}),
	)
	msg := protocol.New(&protocol.Heartbeat{})
	if out := mw.BeforeSend(msg); out != msg {
		t.Fatal("filtered message must still pass through")
	}
	if extracted != 0 {
		t.Fatal("extractor must not run for filtered messages")
	}
}
