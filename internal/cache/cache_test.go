package cache

import (
	"context"
	"fmt"
	"testing"
)

func TestMapStore_PrefixDeleteAndClear(t *testing.T) {
	s := NewMap[int]()
	s.Set("layer-1|meta", 1)
	s.Set("layer-1|fc:all", 2)
	s.Set("layer-10|meta", 3)

	if n := s.DeletePrefix("layer-1|"); n != 2 {
		t.Fatalf("DeletePrefix removed %d want 2", n)
	}
	if _, ok := s.Get("layer-10|meta"); !ok {
		t.Fatalf("unrelated layer must survive")
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("Len=%d after Clear", s.Len())
	}
}

func TestLRUStore_EvictsOldestAndDeletesPrefix(t *testing.T) {
	s := NewLRU[string](2)
	s.Set("a|1", "x")
	s.Set("a|2", "y")
	s.Set("b|1", "z")
	if _, ok := s.Get("a|1"); ok {
		t.Fatalf("oldest entry should be evicted")
	}
	if n := s.DeletePrefix("a|"); n != 1 {
		t.Fatalf("DeletePrefix removed %d want 1", n)
	}
	if s.Len() != 1 {
		t.Fatalf("Len=%d want 1", s.Len())
	}
	if _, unbounded := NewLRU[int](0).(*mapStore[int]); !unbounded {
		t.Fatalf("size 0 must fall back to the unbounded map store")
	}
}

func TestBounded_SkipsInsertsPastCapWithoutEviction(t *testing.T) {
	b := NewBounded[int](3)
	for i := range 10 {
		b.Set(fmt.Sprintf("g%d", i), i)
	}
	if b.Len() != 3 {
		t.Fatalf("Len=%d want 3", b.Len())
	}
	for i := range 3 {
		if v, ok := b.Get(fmt.Sprintf("g%d", i)); !ok || v != i {
			t.Fatalf("entry g%d inserted before the cap must remain a hit", i)
		}
	}
	if _, ok := b.Get("g5"); ok {
		t.Fatalf("entry past the cap must not be stored")
	}
	if b.Skipped() != 7 {
		t.Fatalf("Skipped=%d want 7", b.Skipped())
	}

	b.Set("g0", 42)
	if v, _ := b.Get("g0"); v != 42 {
		t.Fatalf("overwriting an existing key must still work when full")
	}
}

func TestMemoryResponses(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryResponses()
	_ = r.Set(ctx, "layer-1|raw:x", Response{ContentType: "text/xml", Body: []byte("<a/>")})
	got, ok, err := r.Get(ctx, "layer-1|raw:x")
	if err != nil || !ok || got.ContentType != "text/xml" {
		t.Fatalf("Get=%+v ok=%v err=%v", got, ok, err)
	}
	_ = r.DeletePrefix(ctx, "layer-1|")
	if _, ok, _ := r.Get(ctx, "layer-1|raw:x"); ok {
		t.Fatalf("expected prefix delete to remove entry")
	}
}
