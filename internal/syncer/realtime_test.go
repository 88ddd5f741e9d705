package syncer

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestRealtimeTopic(t *testing.T) {
	client := NewRealtimeClient("wss://example/socket", "", "", "permittrack_state", zerolog.Nop())
	if got := client.topic(); got != "realtime:public:permittrack_state" {
		t.Fatalf("topic = %q", got)
	}
}

func TestExtractRevision(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    int64
	}{
		{name: "nested record", payload: `{"record": {"app_id": "permittrack", "revision": 12}}`, want: 12},
		{name: "flat record", payload: `{"revision": 7}`, want: 7},
		{name: "missing revision", payload: `{"record": {"app_id": "permittrack"}}`, want: 0},
		{name: "junk", payload: `"nope"`, want: 0},
		{name: "empty", payload: ``, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractRevision(json.RawMessage(tc.payload)); got != tc.want {
				t.Fatalf("extractRevision(%s) = %d, want %d", tc.payload, got, tc.want)
			}
		})
	}
}
