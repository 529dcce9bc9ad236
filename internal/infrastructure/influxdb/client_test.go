package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/config"
)

// fakeInflux is a minimal InfluxDB v2 HTTP endpoint that answers pings and
// captures line protocol writes.
type fakeInflux struct {
	mu     sync.Mutex
	lines  []string
	query  string
	server *httptest.Server
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeInflux) handle(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping", "/health":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server
		f.mu.Lock()
		f.query = r.URL.RawQuery
		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if line != "" {
				f.lines = append(f.lines, line)
			}
		}
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInflux) getLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.lines))
	copy(out, f.lines)
	return out
}

func (f *fakeInflux) config() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           f.server.URL,
		Token:         "test-token",
		Org:           "graylogic",
		Bucket:        "tuya",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func waitForLines(t *testing.T, f *fakeInflux, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if lines := f.getLines(); len(lines) >= n {
			return lines
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d lines, got %v", n, f.getLines())
	return nil
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(context.Background(), config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := config.InfluxDBConfig{
		Enabled: true,
		URL:     "http://127.0.0.1:1", // nothing listens here
		Org:     "graylogic",
		Bucket:  "tuya",
	}

	_, err := Connect(context.Background(), cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnectAndHealthCheck(t *testing.T) {
	f := newFakeInflux(t)

	client, err := Connect(context.Background(), f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestWriteTelemetry(t *testing.T) {
	f := newFakeInflux(t)

	client, err := Connect(context.Background(), f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.now = func() time.Time { return time.Unix(1767225600, 0) }

	client.WriteLightState("desk-lamp", true, 50)
	client.WriteDatapoint("lamp-01", 2, "integer", 505, "tx")
	client.Flush()

	lines := waitForLines(t, f, 2)
	joined := strings.Join(lines, "\n")
	for _, want := range []string{
		"light_state,light_id=desk-lamp",
		"on=true",
		"brightness=50",
		"tuya_datapoint,",
		"device_id=lamp-01",
		"dp_id=2",
		"direction=tx",
		"value=505i",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("written lines missing %q:\n%s", want, joined)
		}
	}

	f.mu.Lock()
	query := f.query
	f.mu.Unlock()
	if !strings.Contains(query, "bucket=tuya") || !strings.Contains(query, "org=graylogic") {
		t.Errorf("write query = %q", query)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestWriteAfterClose(t *testing.T) {
	f := newFakeInflux(t)

	client, err := Connect(context.Background(), f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Must not panic or write.
	client.WriteLightState("desk-lamp", false, 0)
	client.WriteDatapoint("lamp-01", 1, "boolean", 0, "rx")
	client.Flush()

	if !errors.Is(client.HealthCheck(context.Background()), ErrNotConnected) {
		t.Error("HealthCheck() after Close should report ErrNotConnected")
	}
	if lines := f.getLines(); len(lines) != 0 {
		t.Errorf("lines written after Close: %v", lines)
	}
}

func TestClose_Nil(t *testing.T) {
	var c Client
	if err := c.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}

func TestPointLineProtocol(t *testing.T) {
	ts := time.Unix(1767225600, 0)

	tests := []struct {
		name  string
		point *write.Point
		want  string
	}{
		{
			name:  "light state",
			point: lightStatePoint("hall", false, 0, ts),
			want:  "light_state,light_id=hall brightness=0,on=false 1767225600\n",
		},
		{
			name:  "boolean datapoint",
			point: datapointPoint("hall-switch", 1, "boolean", 1, "rx", ts),
			want:  "tuya_datapoint,device_id=hall-switch,direction=rx,dp_id=1,dp_type=boolean value=1i 1767225600\n",
		},
		{
			name:  "three digit dp id",
			point: datapointPoint("lamp", 101, "integer", 1000, "tx", ts),
			want:  "tuya_datapoint,device_id=lamp,direction=tx,dp_id=101,dp_type=integer value=1000i 1767225600\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := write.PointToLineProtocol(tt.point, time.Second); got != tt.want {
				t.Errorf("line protocol = %q, want %q", got, tt.want)
			}
		})
	}
}
