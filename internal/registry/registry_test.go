package registry

import "testing"

type fakeHandle struct {
	closed bool
}

func (f *fakeHandle) Close() error {
	f.closed = true
	return nil
}

func TestGetOrCreateCachesHandle(t *testing.T) {
	r := New()
	calls := 0
	factory := func() (Handle, error) {
		calls++
		return &fakeHandle{}, nil
	}

	key := Key{Kind: KindTCP, EndpointKey: "localhost:9000"}
	h1, err := r.GetOrCreate(key, factory)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := r.GetOrCreate(key, factory)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected same handle returned for the same key")
	}
	if calls != 1 {
		t.Fatalf("expected factory called once, got %d", calls)
	}
}

func TestRemoveClosesHandle(t *testing.T) {
	r := New()
	fh := &fakeHandle{}
	key := Key{Kind: KindTCP, EndpointKey: "localhost:9000"}
	if _, err := r.GetOrCreate(key, func() (Handle, error) { return fh, nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.Remove(key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fh.closed {
		t.Fatalf("expected handle to be closed")
	}

	if _, ok := r.Get(key); ok {
		t.Fatalf("expected key removed from registry")
	}
}

func TestCloseAllClosesEveryHandleAndBlocksFurtherCreation(t *testing.T) {
	r := New()
	var handles []*fakeHandle
	for i := 0; i < 3; i++ {
		fh := &fakeHandle{}
		handles = append(handles, fh)
		key := Key{Kind: KindTCP, EndpointKey: string(rune('a' + i))}
		if _, err := r.GetOrCreate(key, func() (Handle, error) { return fh, nil }); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if errs := r.CloseAll(); len(errs) != 0 {
		t.Fatalf("unexpected close errors: %v", errs)
	}
	for i, fh := range handles {
		if !fh.closed {
			t.Fatalf("handle %d not closed", i)
		}
	}

	_, err := r.GetOrCreate(Key{Kind: KindTCP, EndpointKey: "new"}, func() (Handle, error) {
		return &fakeHandle{}, nil
	})
	if err == nil {
		t.Fatalf("expected error creating handle on closed registry")
	}
}
