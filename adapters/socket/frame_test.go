package socket

import (
	"encoding/json"
	"testing"

	"github.com/artpar/plume/pkg/apperr"
	"github.com/artpar/plume/ports"
)

// TestFrameRoundTrip verifies the wire envelope encodes as expected
func TestFrameRoundTrip(t *testing.T) {
	in := frame{
		Type:    frameCall,
		ID:      "1",
		Service: "messages",
		Method:  "create",
		Data:    ports.Record{"text": "hi"},
	}

	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out frame
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type != frameCall || out.ID != "1" || out.Service != "messages" || out.Method != "create" {
		t.Errorf("round trip = %+v", out)
	}
	if out.Data["text"] != "hi" {
		t.Errorf("data = %v", out.Data)
	}
}

// TestFrameOmitsEmpty verifies optional fields stay off the wire
func TestFrameOmitsEmpty(t *testing.T) {
	raw, err := json.Marshal(frame{Type: frameEvent, Event: "messages created"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, absent := range []string{"id", "service", "method", "target", "query", "data", "error"} {
		if _, ok := generic[absent]; ok {
			t.Errorf("empty field %q should be omitted", absent)
		}
	}
}

// TestToWireError verifies error classification survives serialization
func TestToWireError(t *testing.T) {
	we := toWireError(apperr.NotFoundf("no record with id %q", "x"))
	if we.Kind != "not-found" {
		t.Errorf("kind = %q", we.Kind)
	}
	if we.Message == "" {
		t.Error("message should not be empty")
	}

	we = toWireError(json.Unmarshal([]byte("{"), &struct{}{}))
	if we.Kind != "unknown" {
		t.Errorf("unclassified kind = %q", we.Kind)
	}
}

// TestParseQuery verifies reserved keys against filters
func TestParseQuery(t *testing.T) {
	q := parseQuery(map[string]any{
		"$limit": float64(10),
		"$skip":  float64(5),
		"$sort":  "-createdAt",
		"userId": "u1",
	})

	if q.Limit != 10 || q.Skip != 5 {
		t.Errorf("limit=%d skip=%d", q.Limit, q.Skip)
	}
	if q.Sort != "createdAt" || !q.Desc {
		t.Errorf("sort=%q desc=%v", q.Sort, q.Desc)
	}
	if q.Filters["userId"] != "u1" {
		t.Errorf("filters = %v", q.Filters)
	}
}

// TestParseQueryDefaults verifies empty and negative inputs
func TestParseQueryDefaults(t *testing.T) {
	q := parseQuery(nil)
	if q.Paged() {
		t.Error("empty query should be unpaged")
	}
	if q.Filters != nil {
		t.Error("empty query should carry no filter map")
	}

	q = parseQuery(map[string]any{"$limit": float64(-5), "$skip": "nope"})
	if q.Limit != 0 || q.Skip != 0 {
		t.Errorf("negative/garbage paging: limit=%d skip=%d", q.Limit, q.Skip)
	}
}

// TestParseQueryAscendingSort verifies sort without the descending prefix
func TestParseQueryAscendingSort(t *testing.T) {
	q := parseQuery(map[string]any{"$sort": "name"})
	if q.Sort != "name" || q.Desc {
		t.Errorf("sort=%q desc=%v", q.Sort, q.Desc)
	}
}
