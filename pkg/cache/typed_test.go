package cache

import (
	"context"
	"testing"
	"time"
)

type segmentGroupFixture struct {
	Replicas []string `json:"replicas"`
	Segments []string `json:"segments"`
}

func TestGetSetJSON_RoundTrip(t *testing.T) {
	c := NewMemoryCache(DefaultOptions())
	defer c.Close()

	ctx := context.Background()
	want := segmentGroupFixture{Replicas: []string{"s1:8000"}, Segments: []string{"seg0", "seg1"}}

	SetJSON(ctx, c, "routing:events_OFFLINE", want, time.Minute)

	got, ok := GetJSON[segmentGroupFixture](ctx, c, "routing:events_OFFLINE")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got.Replicas) != 1 || got.Replicas[0] != "s1:8000" || len(got.Segments) != 2 {
		t.Errorf("GetJSON = %+v, want %+v", got, want)
	}
}

func TestGetJSON_MissOnAbsentKey(t *testing.T) {
	c := NewMemoryCache(DefaultOptions())
	defer c.Close()

	if _, ok := GetJSON[segmentGroupFixture](context.Background(), c, "routing:missing"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestGetJSON_MissOnUndecodableValue(t *testing.T) {
	c := NewMemoryCache(DefaultOptions())
	defer c.Close()

	ctx := context.Background()
	_ = c.Set(ctx, "routing:corrupt", []byte("not json"), time.Minute)

	if _, ok := GetJSON[segmentGroupFixture](ctx, c, "routing:corrupt"); ok {
		t.Error("expected miss for undecodable cached value")
	}
}
