package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpulse/postpulse/internal/engine"
	"github.com/postpulse/postpulse/internal/profile"
	"github.com/postpulse/postpulse/internal/store"
	"github.com/postpulse/postpulse/pkg/types"
)

// fakeComputer returns a profile whose Posts field counts the calls made for
// the account, or the error configured for it.
type fakeComputer struct {
	mu     sync.Mutex
	calls  []string
	counts map[string]int
	errs   map[string]error
	fail   map[string]bool // first page failed

	inFlight    int
	maxInFlight int
}

func newFakeComputer() *fakeComputer {
	return &fakeComputer{
		counts: map[string]int{},
		errs:   map[string]error{},
		fail:   map[string]bool{},
	}
}

func (f *fakeComputer) ComputeDistribution(_ context.Context, account string) (*types.DistributionResult, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.calls = append(f.calls, account)
	f.counts[account]++
	n := f.counts[account]
	err := f.errs[account]
	failed := f.fail[account]
	f.mu.Unlock()

	time.Sleep(time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	res := &types.DistributionResult{Account: account, Report: types.FetchReport{Posts: n}}
	if failed {
		res.Report.Posts = 0
		res.Report.Failed = true
		res.Report.Pages = []types.PageResult{{Index: 0, Error: "timeline: unexpected status 503"}}
	}
	return res, nil
}

func (f *fakeComputer) set(account string, err error, failed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[account] = err
	f.fail[account] = failed
}

func (f *fakeComputer) callCount(account string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[account]
}

func posts(t *testing.T, st *store.Store, account string) int {
	t.Helper()
	e, ok := st.Get(account)
	require.True(t, ok, "no entry for %s", account)
	return e.Profile.Report.Posts
}

func TestRefreshAll_StoresEveryAccount(t *testing.T) {
	fc := newFakeComputer()
	st := store.New(time.Hour)
	r := New(profile.New(fc, st, nil), []string{"POTUS", "VP", "WhiteHouse"}, time.Minute)

	n := r.RefreshAll(context.Background())
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, st.Count())
	assert.Equal(t, []string{"POTUS", "VP", "WhiteHouse"}, fc.calls)
	assert.Equal(t, 1, fc.maxInFlight, "accounts must be computed sequentially")
}

func TestRefreshAll_KeepsPreviousOnError(t *testing.T) {
	fc := newFakeComputer()
	st := store.New(time.Hour)
	r := New(profile.New(fc, st, nil), []string{"jack", "ghost", "flaky"}, time.Minute)

	require.Equal(t, 3, r.RefreshAll(context.Background()))

	fc.set("ghost", engine.ErrAccountNotFound, false)
	fc.set("flaky", nil, true)
	assert.Equal(t, 1, r.RefreshAll(context.Background()))

	assert.Equal(t, 2, posts(t, st, "jack"))
	assert.Equal(t, 1, posts(t, st, "ghost"))
	assert.Equal(t, 1, posts(t, st, "flaky"))
}

func TestRefreshAll_StopsOnCancel(t *testing.T) {
	fc := newFakeComputer()
	st := store.New(time.Hour)
	r := New(profile.New(fc, st, nil), []string{"a", "b"}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 0, r.RefreshAll(ctx))
	assert.Empty(t, fc.calls)
}

func TestRefreshMissing(t *testing.T) {
	fc := newFakeComputer()
	st := store.New(time.Hour)
	r := New(profile.New(fc, st, nil), []string{"jack"}, time.Minute)
	require.Equal(t, 1, r.RefreshAll(context.Background()))

	r.Update([]string{"jack", "POTUS"}, time.Minute)
	assert.Equal(t, 1, r.RefreshMissing(context.Background()))
	assert.Equal(t, 1, fc.callCount("jack"))
	assert.Equal(t, 1, fc.callCount("POTUS"))
}

func TestUpdate_CopiesAccounts(t *testing.T) {
	r := New(profile.New(newFakeComputer(), store.New(time.Hour), nil), nil, 0)

	accounts := []string{"jack"}
	r.Update(accounts, 5*time.Minute)
	accounts[0] = "mutated"

	assert.Equal(t, []string{"jack"}, r.Accounts())
	assert.Equal(t, 5*time.Minute, r.Interval())
}

func TestRun_RefreshesOnInterval(t *testing.T) {
	fc := newFakeComputer()
	st := store.New(time.Hour)
	r := New(profile.New(fc, st, nil), []string{"jack"}, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	assert.Eventually(t, func() bool { return fc.callCount("jack") >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestRun_ZeroIntervalComputesOnce(t *testing.T) {
	fc := newFakeComputer()
	st := store.New(time.Hour)
	r := New(profile.New(fc, st, nil), []string{"jack"}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return fc.callCount("jack") == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fc.callCount("jack"))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_UpdateComputesNewAccounts(t *testing.T) {
	fc := newFakeComputer()
	st := store.New(time.Hour)
	r := New(profile.New(fc, st, nil), []string{"jack"}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool { return fc.callCount("jack") == 1 }, time.Second, 5*time.Millisecond)

	r.Update([]string{"jack", "VP"}, 0)
	assert.Eventually(t, func() bool {
		_, ok := st.Fresh("VP")
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, fc.callCount("jack"))
}

func TestRefreshOne_ComputeError(t *testing.T) {
	fc := newFakeComputer()
	fc.set("jack", errors.New("boom"), false)
	st := store.New(time.Hour)
	r := New(profile.New(fc, st, nil), []string{"jack"}, 0)

	assert.Equal(t, 0, r.RefreshAll(context.Background()))
	assert.Equal(t, 0, st.Count())
}
