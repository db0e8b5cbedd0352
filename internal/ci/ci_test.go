package ci

import (
	"testing"
	"time"
)

func TestTimeoutsWithDefaults(t *testing.T) {
	cases := []struct {
		name string
		in   Timeouts
		want Timeouts
	}{
		{"all zero", Timeouts{}, Timeouts{PollInterval: defaultPollInterval, NoChecksTimeout: defaultNoChecksTimeout, Overall: defaultOverallTimeout}},
		{"partial override", Timeouts{PollInterval: 5 * time.Second}, Timeouts{PollInterval: 5 * time.Second, NoChecksTimeout: defaultNoChecksTimeout, Overall: defaultOverallTimeout}},
		{"fully configured", Timeouts{PollInterval: time.Second, NoChecksTimeout: time.Minute, Overall: time.Hour}, Timeouts{PollInterval: time.Second, NoChecksTimeout: time.Minute, Overall: time.Hour}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := c.in.withDefaults()
			if got != c.want {
				t.Fatalf("got %+v, want %+v", got, c.want)
			}
		})
	}
}

func TestJobIDFromDetailsURL(t *testing.T) {
	id, ok := jobIDFromDetailsURL("https://github.com/owner/repo/actions/runs/123/job/456")
	if !ok || id != 456 {
		t.Fatalf("expected id 456, got %d ok=%v", id, ok)
	}
	if _, ok := jobIDFromDetailsURL("not a details url"); ok {
		t.Fatal("expected no match")
	}
}

func TestTruncateBytes(t *testing.T) {
	if got := truncateBytes("short", 10); got != "short" {
		t.Fatalf("expected untouched, got %q", got)
	}
	got := truncateBytes("0123456789abcdef", 4)
	if got[:4] != "0123" {
		t.Fatalf("expected truncation to preserve prefix, got %q", got)
	}
}
