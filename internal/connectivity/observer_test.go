package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestObserver_TransitionsOnly(t *testing.T) {
	o := NewObserver(false)
	ch, unsub := o.Subscribe()
	defer unsub()

	if o.SetOnline(false) {
		t.Error("Expected no change when already offline")
	}
	if !o.SetOnline(true) {
		t.Error("Expected change to online")
	}

	select {
	case v := <-ch:
		if !v {
			t.Error("Expected online transition")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected a transition notification")
	}
	if !o.Online() {
		t.Error("Expected observer to be online")
	}
}

func TestObserver_LatestStateWins(t *testing.T) {
	o := NewObserver(true)
	ch, unsub := o.Subscribe()
	defer unsub()

	o.SetOnline(false)
	o.SetOnline(true)
	o.SetOnline(false)

	if v := <-ch; v {
		t.Error("Expected the latest state (offline)")
	}
	select {
	case v := <-ch:
		t.Errorf("Expected a single buffered state, got extra %v", v)
	default:
	}
}

func TestProber_Probe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	o := NewObserver(false)
	p := NewProber(server.URL, time.Second, o)

	if !p.Probe(context.Background()) || !o.Online() {
		t.Error("Expected any HTTP answer to count as online")
	}

	server.Close()
	if p.Probe(context.Background()) || o.Online() {
		t.Error("Expected closed server to count as offline")
	}
}
