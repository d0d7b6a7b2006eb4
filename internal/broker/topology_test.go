package broker

import "testing"

func TestStandardExchangesHaveExpectedKinds(t *testing.T) {
	want := map[string]string{
		"vsm.algedonic":    "fanout",
		"vsm.policy":       "fanout",
		"vsm.intelligence": "topic",
		"vsm.control":      "topic",
		"vsm.recursive":    "topic",
		"vsm.s1.commands":  "topic",
		"vsm.audit":        "direct",
	}
	if len(standardExchanges) != len(want) {
		t.Fatalf("expected %d exchanges, got %d", len(want), len(standardExchanges))
	}
	for _, ex := range standardExchanges {
		kind, ok := want[ex.name]
		if !ok {
			t.Fatalf("unexpected exchange %s", ex.name)
		}
		if kind != ex.kind {
			t.Fatalf("exchange %s: expected kind %s, got %s", ex.name, kind, ex.kind)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{URL: "amqp://localhost"}.withDefaults()
	if cfg.MinBackoff.Seconds() != 1 {
		t.Fatalf("expected 1s min backoff, got %v", cfg.MinBackoff)
	}
	if cfg.MaxBackoff.Seconds() != 30 {
		t.Fatalf("expected 30s max backoff, got %v", cfg.MaxBackoff)
	}
	if cfg.JitterFrac != 0.2 {
		t.Fatalf("expected 0.2 jitter fraction, got %v", cfg.JitterFrac)
	}
}
