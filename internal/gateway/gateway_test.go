package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"demandindex-plus/internal/model"
)

type envelope struct {
	Channel    string          `json:"channel"`
	Data       json.RawMessage `json:"data"`
	TS         string          `json:"ts"`
	Seq        int64           `json:"seq"`
	ChannelSeq int64           `json:"channel_seq"`
}

func TestBuildEnvelope(t *testing.T) {
	now := time.Date(2024, 3, 4, 15, 0, 1, 0, time.UTC)
	buf := buildEnvelope("pub:di:60s:SPY", []byte(`{"di":"12.5"}`), now, 42, 7)

	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, buf)
	}
	if env.Channel != "pub:di:60s:SPY" || env.Seq != 42 || env.ChannelSeq != 7 {
		t.Errorf("envelope = %+v", env)
	}
	if string(env.Data) != `{"di":"12.5"}` {
		t.Errorf("data = %s", env.Data)
	}
	if parsed, err := time.Parse(time.RFC3339Nano, env.TS); err != nil || !parsed.Equal(now) {
		t.Errorf("ts = %s (%v)", env.TS, err)
	}
}

func TestReplayBuffer_RangeAndWraparound(t *testing.T) {
	rb := NewReplayBuffer(5)
	for i := int64(1); i <= 8; i++ {
		rb.Push(i, []byte{byte('0' + i)})
	}
	if rb.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", rb.Len())
	}
	got := rb.Range(1, 10)
	if len(got) != 5 || string(got[0]) != "4" || string(got[4]) != "8" {
		t.Errorf("Range(1,10) = %q", got)
	}
	if got := rb.Range(6, 7); len(got) != 2 || string(got[0]) != "6" {
		t.Errorf("Range(6,7) = %q", got)
	}
	if got := NewReplayBuffer(3).Range(0, 100); len(got) != 0 {
		t.Errorf("empty Range = %q", got)
	}
}

func TestParseResultChannel(t *testing.T) {
	sym, tf, ok := parseResultChannel("pub:di:300s:BRK:B")
	if !ok || sym != "BRK:B" || tf != 300 {
		t.Errorf("got %q %d %v", sym, tf, ok)
	}
	for _, ch := range []string{AlertChannel, "pub:candle:60s:SPY", "pub:di:xs:SPY"} {
		if _, _, ok := parseResultChannel(ch); ok {
			t.Errorf("%q should not parse", ch)
		}
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// Coalesced frames carry newline-separated messages; take the first.
	first := strings.SplitN(string(raw), "\n", 2)[0]
	var env envelope
	if err := json.Unmarshal([]byte(first), &env); err != nil {
		t.Fatalf("unmarshal %s: %v", first, err)
	}
	return env
}

func TestHub_SubscribedClientReceivesOnlyItsSymbol(t *testing.T) {
	hub := NewHub(10)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]interface{}{"type": "SUBSCRIBE", "symbol": "SPY", "tf": 60}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack map[string]interface{}
	if err := conn.ReadJSON(&ack); err != nil || ack["type"] != "subscribed" {
		t.Fatalf("ack = %v, %v", ack, err)
	}

	ts := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	hub.PublishResult(model.DIResult{Symbol: "QQQ", TF: 60, Index: 1, TS: ts, DI: decimal.NewFromInt(5)})
	hub.PublishResult(model.DIResult{Symbol: "SPY", TF: 60, Index: 9, TS: ts, DI: decimal.NewFromInt(61)})

	env := readEnvelope(t, conn)
	if env.Channel != "pub:di:60s:SPY" {
		t.Fatalf("channel = %s, want SPY results only", env.Channel)
	}
	var res model.DIResult
	if err := json.Unmarshal(env.Data, &res); err != nil || res.Index != 9 {
		t.Errorf("result = %+v (%v)", res, err)
	}

	hub.PublishAlert(model.AlertEvent{Name: "DemandIndexPlus", Message: "Cross Long", Symbol: "QQQ"})
	if env := readEnvelope(t, conn); env.Channel != AlertChannel {
		t.Errorf("alerts should reach every client, got %s", env.Channel)
	}

	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount = %d", hub.ClientCount())
	}
	if hub.GetChannelSeq("pub:di:60s:QQQ") != 1 || len(hub.GetLatestAll()) != 3 {
		t.Errorf("latest = %v", hub.GetLatestAll())
	}
}

func TestHub_ServeMissed(t *testing.T) {
	hub := NewHub(10)
	for i := 0; i < 4; i++ {
		hub.PublishResult(model.DIResult{Symbol: "SPY", TF: 60, Index: i})
	}

	rec := httptest.NewRecorder()
	hub.ServeMissed(rec, httptest.NewRequest(http.MethodGet, "/ws/missed?channel=pub:di:60s:SPY&from=2&to=3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var envs []envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envs); err != nil {
		t.Fatal(err)
	}
	if len(envs) != 2 || envs[0].ChannelSeq != 2 {
		t.Errorf("missed = %+v", envs)
	}

	rec = httptest.NewRecorder()
	hub.ServeMissed(rec, httptest.NewRequest(http.MethodGet, "/ws/missed?channel=x&from=5&to=1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
