package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/postpulse/postpulse/pkg/types"
)

func profile(account string) *types.DistributionResult {
	return &types.DistributionResult{Account: account}
}

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestPutAndGet(t *testing.T) {
	st := New(5 * time.Minute)
	st.Put(profile("jack"))

	e, ok := st.Get("jack")
	if !ok {
		t.Fatal("Get: expected entry, got none")
	}
	if e.Profile.Account != "jack" {
		t.Errorf("Account: got %q, want jack", e.Profile.Account)
	}
}

func TestGet_CaseInsensitive(t *testing.T) {
	st := New(5 * time.Minute)
	st.Put(profile("WhiteHouse"))

	if _, ok := st.Get("whitehouse"); !ok {
		t.Fatal("Get(whitehouse): expected entry stored as WhiteHouse")
	}
	if _, ok := st.Fresh("WHITEHOUSE"); !ok {
		t.Fatal("Fresh(WHITEHOUSE): expected entry stored as WhiteHouse")
	}
}

func TestGet_Missing(t *testing.T) {
	st := New(5 * time.Minute)
	if _, ok := st.Get("unknown"); ok {
		t.Fatal("Get on empty store: expected false, got true")
	}
}

func TestPut_Overwrites(t *testing.T) {
	st := New(5 * time.Minute)
	p1 := &types.DistributionResult{Account: "jack", Report: types.FetchReport{Posts: 1}}
	p2 := &types.DistributionResult{Account: "Jack", Report: types.FetchReport{Posts: 2}}

	st.Put(p1)
	st.Put(p2)

	e, ok := st.Get("jack")
	if !ok {
		t.Fatal("Get: expected entry after two Puts")
	}
	if e.Profile.Report.Posts != 2 {
		t.Errorf("Posts: got %d, want 2", e.Profile.Report.Posts)
	}
	if st.Count() != 1 {
		t.Errorf("Count: got %d, want 1", st.Count())
	}
}

func TestFresh_ExcludesStale(t *testing.T) {
	base := time.Now()
	st := New(5 * time.Minute)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	st.Put(profile("old"))

	st.now = fixedClock(base)
	if _, ok := st.Fresh("old"); ok {
		t.Error("Fresh: stale entry was served")
	}
	if _, ok := st.Get("old"); !ok {
		t.Error("Get: stale entry should still be held until evicted")
	}
}

func TestList_ExcludesStaleAndSorts(t *testing.T) {
	base := time.Now()
	st := New(5 * time.Minute)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	st.Put(profile("old"))

	st.now = fixedClock(base)
	st.Put(profile("VP"))
	st.Put(profile("POTUS"))
	st.Put(profile("jack"))

	entries := st.List()
	if len(entries) != 3 {
		t.Fatalf("List: got %d entries, want 3", len(entries))
	}
	want := []string{"jack", "POTUS", "VP"}
	for i, e := range entries {
		if e.Profile.Account != want[i] {
			t.Errorf("List[%d]: got %q, want %q", i, e.Profile.Account, want[i])
		}
	}
}

func TestCount_IncludesStale(t *testing.T) {
	base := time.Now()
	st := New(5 * time.Minute)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	st.Put(profile("old"))

	st.now = fixedClock(base)
	st.Put(profile("new"))

	if n := st.Count(); n != 2 {
		t.Errorf("Count: got %d, want 2", n)
	}
}

func TestEvict_RemovesStale(t *testing.T) {
	base := time.Now()
	st := New(5 * time.Minute)

	st.now = fixedClock(base.Add(-10 * time.Minute))
	st.Put(profile("old1"))
	st.Put(profile("old2"))

	st.now = fixedClock(base)
	st.Put(profile("live"))

	if removed := st.Evict(base); removed != 2 {
		t.Errorf("Evict: removed %d, want 2", removed)
	}
	if st.Count() != 1 {
		t.Errorf("Count after evict: got %d, want 1", st.Count())
	}
}

func TestSetTTL(t *testing.T) {
	base := time.Now()
	st := New(time.Hour)
	st.now = fixedClock(base.Add(-30 * time.Minute))
	st.Put(profile("jack"))
	st.now = fixedClock(base)

	if _, ok := st.Fresh("jack"); !ok {
		t.Fatal("Fresh: want entry within a 1h TTL")
	}
	st.SetTTL(10 * time.Minute)
	if st.TTL() != 10*time.Minute {
		t.Errorf("TTL: got %s, want 10m", st.TTL())
	}
	if _, ok := st.Fresh("jack"); ok {
		t.Error("Fresh: entry should be stale under a 10m TTL")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	st := New(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		st.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConcurrentMixedOps(t *testing.T) {
	st := New(5 * time.Minute)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			st.Put(profile("jack"))
		}()
		go func() {
			defer wg.Done()
			st.List()
		}()
		go func() {
			defer wg.Done()
			st.Fresh("jack")
		}()
	}
	wg.Wait()

	if st.Count() != 1 {
		t.Errorf("Count after concurrent puts: got %d, want 1", st.Count())
	}
}

func TestRun_FollowsSetTTL(t *testing.T) {
	st := New(time.Hour)
	st.now = fixedClock(time.Now().Add(-time.Minute))
	st.Put(profile("jack"))
	st.now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go st.Run(ctx)

	// With the original TTL the first sweep would be 30 minutes away.
	st.SetTTL(2 * time.Second)

	deadline := time.Now().Add(3 * time.Second)
	for st.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("entry not evicted after TTL was shortened")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestEvictInterval(t *testing.T) {
	st := New(time.Hour)
	if got := st.evictInterval(); got != 30*time.Minute {
		t.Errorf("evictInterval: got %v, want 30m", got)
	}
	st.SetTTL(time.Second)
	if got := st.evictInterval(); got != time.Second {
		t.Errorf("evictInterval: got %v, want 1s minimum", got)
	}
}
