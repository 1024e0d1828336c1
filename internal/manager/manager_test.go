package manager

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"wg-tunnels/internal/core"
	"wg-tunnels/internal/defaults"
	"wg-tunnels/internal/recents"
	"wg-tunnels/internal/store"
	"wg-tunnels/internal/vpn"
	"wg-tunnels/internal/wgconf"
)

const (
	confA = `[Interface]
PrivateKey = YWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWE=
Address = 10.0.0.2/32

[Peer]
PublicKey = YmJiYmJiYmJiYmJiYmJiYmJiYmJiYmJiYmJiYmJiYmI=
Endpoint = 192.0.2.1:51820
AllowedIPs = 10.0.0.0/24
`
	confB = `[Interface]
PrivateKey = YWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWE=
Address = 10.9.0.2/32

[Peer]
PublicKey = Y2NjY2NjY2NjY2NjY2NjY2NjY2NjY2NjY2NjY2NjY2M=
Endpoint = 192.0.2.9:51820
AllowedIPs = 10.9.0.0/24
`
	confNoPeers = `[Interface]
PrivateKey = YWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWE=
`
)

func mustConf(t *testing.T, text string) *wgconf.Config {
	t.Helper()
	cfg, err := wgconf.ParseString(text)
	require.NoError(t, err)
	return cfg
}

// mockStore lets tests fail individual removals.
type mockStore struct {
	mock.Mock
	*store.MemoryStore
}

func (s *mockStore) Remove(ctx context.Context, name string) error {
	if err := s.Called(name).Error(0); err != nil {
		return err
	}
	return s.MemoryStore.Remove(ctx, name)
}

type fixture struct {
	m        *Manager
	store    store.Store
	backend  *vpn.Memory
	defaults *defaults.MemoryStore
	sub      *Subscription
}

func records(names ...string) []store.Record {
	out := make([]store.Record, len(names))
	for i, n := range names {
		out[i] = store.Record{Name: n, ConfigText: confA}
	}
	return out
}

func newFixtureWith(t *testing.T, st store.Store, backend *vpn.Memory, defs *defaults.MemoryStore) *fixture {
	t.Helper()
	m, err := Create(context.Background(), Options{
		Store:     st,
		Backend:   backend,
		Recents:   recents.New(defs),
		OpTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	f := &fixture{m: m, store: st, backend: backend, defaults: defs, sub: m.Subscribe()}
	t.Cleanup(func() { m.Close() })
	return f
}

func newFixture(t *testing.T, names ...string) *fixture {
	return newFixtureWith(t, store.NewMemory(records(names...)...), vpn.NewMemory(), defaults.NewMemory())
}

func (f *fixture) waitFor(t *testing.T, match func(core.Event) bool) core.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e, ok := <-f.sub.C:
			require.True(t, ok, "subscription closed")
			if match(e) {
				return e
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

func (f *fixture) recents(t *testing.T) []string {
	t.Helper()
	names, err := f.defaults.StringSlice(recents.Key)
	require.NoError(t, err)
	return names
}

func ofType(tt core.EventType) func(core.Event) bool {
	return func(e core.Event) bool { return e.Type == tt }
}

func statusOf(name string, st core.TunnelStatus) func(core.Event) bool {
	return func(e core.Event) bool {
		p, ok := e.Payload.(core.StatusPayload)
		return ok && p.Tunnel == name && p.NewStatus == st
	}
}

func (f *fixture) activate(t *testing.T, name string) {
	t.Helper()
	f.m.StartActivation(name)
	f.waitFor(t, statusOf(name, core.StatusActive))
}

// waitRemoving blocks until a removal of name is under way, observed as
// activation attempts failing with KindTunnelNotFound.
func (f *fixture) waitRemoving(t *testing.T, name string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		f.m.StartActivation(name)
		e := f.waitFor(t, ofType(core.EventActivationAttemptFailed))
		var attempt *ActivationAttemptError
		if errors.As(e.Payload.(core.ActivationPayload).Err, &attempt) && attempt.Kind == KindTunnelNotFound {
			return
		}
		require.True(t, time.Now().Before(deadline), "removal of %q never started", name)
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCreateLoadError(t *testing.T) {
	st := store.NewMemory()
	st.FailWith(errors.New("store locked"))

	m, err := Create(context.Background(), Options{Store: st, Backend: vpn.NewMemory()})
	assert.Nil(t, m)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.EqualError(t, loadErr.Err, "store locked")
}

func TestCreateLoadsInOrderAndCleansRecents(t *testing.T) {
	st := store.NewMemory(
		store.Record{Name: "b", ConfigText: confA},
		store.Record{Name: "broken", ConfigText: "not a config"},
		store.Record{Name: "a", ConfigText: confB},
	)
	defs := defaults.NewMemory()
	require.NoError(t, defs.SetStringSlice(recents.Key, []string{"gone", "a", "broken"}))

	f := newFixtureWith(t, st, vpn.NewMemory(), defs)
	assert.Equal(t, 2, f.m.NumberOfTunnels())
	assert.Equal(t, []string{"b", "a"}, f.m.Names())
	assert.Equal(t, "a", f.m.TunnelAt(1).Name)
	assert.Equal(t, []string{"a"}, f.recents(t))

	_, ok := f.m.TunnelNamed("broken")
	assert.False(t, ok)
}

func TestCreatePicksUpRunningTunnel(t *testing.T) {
	backend := vpn.NewMemory()
	backend.SetStatus("b", vpn.Up)
	f := newFixtureWith(t, store.NewMemory(records("a", "b")...), backend, defaults.NewMemory())

	b, ok := f.m.TunnelNamed("b")
	require.True(t, ok)
	assert.Equal(t, core.StatusActive, b.Status)

	f.m.StartActivation("a")
	e := f.waitFor(t, ofType(core.EventActivationAttemptFailed))
	var attempt *ActivationAttemptError
	require.ErrorAs(t, e.Payload.(core.ActivationPayload).Err, &attempt)
	assert.Equal(t, KindAnotherTunnelIsOperational, attempt.Kind)
	assert.Equal(t, "b", attempt.Operational)
}

func TestTunnelAtOutOfRange(t *testing.T) {
	f := newFixture(t, "a")
	assert.Panics(t, func() { f.m.TunnelAt(1) })
	_, err := f.m.TunnelAtIndex(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestActivationLifecycle(t *testing.T) {
	f := newFixture(t, "a", "b")

	f.m.StartActivation("a")
	f.waitFor(t, statusOf("a", core.StatusActivating))
	f.waitFor(t, statusOf("a", core.StatusActive))
	e := f.waitFor(t, ofType(core.EventActivationSucceeded))
	assert.Equal(t, "a", e.Payload.(core.ActivationPayload).Tunnel)
	assert.Equal(t, []string{"a"}, f.recents(t))

	f.m.StartDeactivation("a")
	f.waitFor(t, statusOf("a", core.StatusDeactivating))
	f.waitFor(t, statusOf("a", core.StatusInactive))

	s, _ := f.backend.Status(context.Background(), "a")
	assert.Equal(t, vpn.Down, s)

	f.activate(t, "b")
	assert.Equal(t, []string{"b", "a"}, f.recents(t))
}

func TestActivationAttemptErrors(t *testing.T) {
	st := store.NewMemory(
		store.Record{Name: "a", ConfigText: confA},
		store.Record{Name: "nopeers", ConfigText: confNoPeers},
	)
	f := newFixtureWith(t, st, vpn.NewMemory(), defaults.NewMemory())

	expect := func(kind AttemptKind) *ActivationAttemptError {
		t.Helper()
		e := f.waitFor(t, ofType(core.EventActivationAttemptFailed))
		var attempt *ActivationAttemptError
		require.ErrorAs(t, e.Payload.(core.ActivationPayload).Err, &attempt)
		assert.Equal(t, kind, attempt.Kind)
		return attempt
	}

	f.m.StartActivation("missing")
	attempt := expect(KindTunnelNotFound)
	assert.ErrorIs(t, attempt, ErrTunnelNotFound)

	f.m.StartActivation("nopeers")
	attempt = expect(KindInvalidConfiguration)
	assert.ErrorIs(t, attempt, wgconf.ErrNoPeers)

	f.activate(t, "a")
	f.m.StartActivation("a")
	expect(KindTunnelIsNotInactive)

	starts, _ := f.backend.Counts()
	assert.Equal(t, 1, starts, "attempt errors never reach the backend")
}

func TestActivationRuntimeError(t *testing.T) {
	f := newFixture(t, "a")
	f.backend.FailStart("a", errors.New("operation not permitted"))

	f.m.StartActivation("a")
	e := f.waitFor(t, ofType(core.EventActivationFailed))
	var actErr *ActivationError
	require.ErrorAs(t, e.Payload.(core.ActivationPayload).Err, &actErr)
	assert.Equal(t, "a", actErr.Tunnel)
	assert.Contains(t, e.Payload.(core.ActivationPayload).Reason, "operation not permitted")

	a, _ := f.m.TunnelNamed("a")
	assert.Equal(t, core.StatusInactive, a.Status)
	assert.Empty(t, f.recents(t))
}

func TestSecondActivationFailsWhileFirstIsActivating(t *testing.T) {
	f := newFixture(t, "a", "b")
	release := f.backend.Hold()
	defer release()

	f.m.StartActivation("a")
	f.waitFor(t, statusOf("a", core.StatusActivating))
	f.m.StartActivation("b")
	e := f.waitFor(t, ofType(core.EventActivationAttemptFailed))
	assert.Equal(t, "b", e.Payload.(core.ActivationPayload).Tunnel)

	release()
	f.waitFor(t, statusOf("a", core.StatusActive))
	b, _ := f.m.TunnelNamed("b")
	assert.Equal(t, core.StatusInactive, b.Status)
}

func TestDeactivationDeferredUntilActivated(t *testing.T) {
	f := newFixture(t, "a")
	release := f.backend.Hold()

	f.m.StartActivation("a")
	f.waitFor(t, statusOf("a", core.StatusActivating))
	f.m.StartDeactivation("a")
	release()

	f.waitFor(t, statusOf("a", core.StatusActive))
	f.waitFor(t, statusOf("a", core.StatusInactive))
	_, stops := f.backend.Counts()
	assert.Equal(t, 1, stops)
}

func TestAtMostOneOperational(t *testing.T) {
	names := []string{"a", "b", "c", "d"}
	f := newFixture(t, names...)
	f.backend.SetLatency(time.Millisecond)

	var (
		mu        sync.Mutex
		status    = map[string]core.TunnelStatus{}
		violation string
	)
	watch := f.m.Subscribe(core.EventTunnelStatusChanged)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range watch.C {
			p := e.Payload.(core.StatusPayload)
			mu.Lock()
			status[p.Tunnel] = p.NewStatus
			n := 0
			for _, st := range status {
				if st.IsOperational() {
					n++
				}
			}
			if n > 1 && violation == "" {
				violation = fmt.Sprintf("%v", status)
			}
			mu.Unlock()
		}
	}()

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		name := names[rng.Intn(len(names))]
		if rng.Intn(2) == 0 {
			f.m.StartActivation(name)
		} else {
			f.m.StartDeactivation(name)
		}
		if i%10 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	// Let in-flight operations settle.
	require.Eventually(t, func() bool {
		for _, tn := range f.m.Tunnels() {
			switch tn.Status {
			case core.StatusActivating, core.StatusDeactivating, core.StatusRestarting:
				return false
			}
		}
		return true
	}, 3*time.Second, 5*time.Millisecond)

	watch.Close()
	<-done
	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, violation)

	operational := 0
	for _, tn := range f.m.Tunnels() {
		if tn.Status.IsOperational() {
			operational++
		}
	}
	assert.LessOrEqual(t, operational, 1)
}

func TestRestart(t *testing.T) {
	f := newFixture(t, "a")
	f.activate(t, "a")

	f.m.Restart("a")
	f.waitFor(t, statusOf("a", core.StatusRestarting))
	f.waitFor(t, statusOf("a", core.StatusActive))
	starts, stops := f.backend.Counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, stops)
}

func TestAdd(t *testing.T) {
	f := newFixture(t, "a")

	tn, err := f.m.Add(context.Background(), "b", mustConf(t, confB), core.OnDemandRules{Option: core.OnDemandWiFiOnly})
	require.NoError(t, err)
	assert.True(t, tn.OnDemandEnabled)
	assert.Equal(t, core.StatusInactive, tn.Status)

	e := f.waitFor(t, ofType(core.EventTunnelAdded))
	assert.Equal(t, core.ListPayload{Index: 1, Tunnel: "b"}, e.Payload)

	_, err = f.m.Add(context.Background(), "b", mustConf(t, confB), core.OnDemandRules{})
	assert.ErrorIs(t, err, ErrTunnelAlreadyExists)
	_, err = f.m.Add(context.Background(), "", mustConf(t, confB), core.OnDemandRules{})
	assert.ErrorIs(t, err, ErrTunnelNameEmpty)
	_, err = f.m.Add(context.Background(), "c", nil, core.OnDemandRules{})
	assert.ErrorIs(t, err, ErrConfigMissing)

	recs, err := f.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[1].Name)
	assert.True(t, mustConf(t, recs[1].ConfigText).Equal(mustConf(t, confB)))
}

func TestAddMultiple(t *testing.T) {
	f := newFixture(t, "a")
	added, err := f.m.AddMultiple(context.Background(), []NewTunnel{
		{Name: "b", Config: mustConf(t, confB)},
		{Name: "a", Config: mustConf(t, confA)},
		{Name: "c", Config: mustConf(t, confA)},
	})
	assert.Equal(t, 2, added)
	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	var addErr *AddError
	require.ErrorAs(t, errs[0], &addErr)
	assert.Equal(t, "a", addErr.Name)
	assert.ErrorIs(t, addErr, ErrTunnelAlreadyExists)
	assert.Equal(t, []string{"a", "b", "c"}, f.m.Names())
}

func TestModifyRenameKeepsRecentPosition(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	f.activate(t, "c")
	f.m.StartDeactivation("c")
	f.waitFor(t, statusOf("c", core.StatusInactive))
	f.activate(t, "b")
	f.m.StartDeactivation("b")
	f.waitFor(t, statusOf("b", core.StatusInactive))
	f.activate(t, "a")
	assert.Equal(t, []string{"a", "b", "c"}, f.recents(t))

	require.NoError(t, f.m.Modify(context.Background(), "b", "bee", nil, core.OnDemandRules{}))
	e := f.waitFor(t, ofType(core.EventTunnelModified))
	assert.Equal(t, core.ListPayload{Index: 1, Tunnel: "bee"}, e.Payload)

	assert.Equal(t, []string{"a", "bee", "c"}, f.m.Names())
	assert.Equal(t, []string{"a", "bee", "c"}, f.recents(t))

	assert.ErrorIs(t, f.m.Modify(context.Background(), "bee", "a", nil, core.OnDemandRules{}), ErrTunnelAlreadyExists)
	assert.ErrorIs(t, f.m.Modify(context.Background(), "zzz", "y", nil, core.OnDemandRules{}), ErrTunnelNotFound)
	assert.ErrorIs(t, f.m.Modify(context.Background(), "bee", "", nil, core.OnDemandRules{}), ErrTunnelNameEmpty)

	recs, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bee", recs[1].Name)
}

func TestModifyRestartsActiveTunnelOnConfigChange(t *testing.T) {
	f := newFixture(t, "a")
	f.activate(t, "a")

	newCfg := mustConf(t, confB)
	require.NoError(t, f.m.Modify(context.Background(), "a", "a", newCfg, core.OnDemandRules{}))
	f.waitFor(t, statusOf("a", core.StatusRestarting))
	f.waitFor(t, statusOf("a", core.StatusActive))
	assert.True(t, f.backend.Config("a").Equal(newCfg))

	// Same config: no restart.
	require.NoError(t, f.m.Modify(context.Background(), "a", "a", mustConf(t, confB), core.OnDemandRules{}))
	f.waitFor(t, ofType(core.EventTunnelModified))
	starts, _ := f.backend.Counts()
	assert.Equal(t, 2, starts)
}

func TestModifyRenameActiveTunnelRestartsUnderNewName(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.activate(t, "a")

	require.NoError(t, f.m.Modify(context.Background(), "a", "c", nil, core.OnDemandRules{}))
	f.waitFor(t, statusOf("c", core.StatusRestarting))
	f.waitFor(t, statusOf("c", core.StatusActive))

	st, _ := f.backend.Status(context.Background(), "a")
	assert.Equal(t, vpn.Down, st)
	st, _ = f.backend.Status(context.Background(), "c")
	assert.Equal(t, vpn.Up, st)
	assert.Equal(t, []string{"c"}, f.recents(t))

	// A fresh manager on the same store and OS state adopts the running tunnel.
	require.NoError(t, f.m.Close())
	g := newFixtureWith(t, f.store, f.backend, f.defaults)
	c, ok := g.m.TunnelNamed("c")
	require.True(t, ok)
	assert.Equal(t, core.StatusActive, c.Status)

	g.m.StartActivation("b")
	e := g.waitFor(t, ofType(core.EventActivationAttemptFailed))
	var attempt *ActivationAttemptError
	require.ErrorAs(t, e.Payload.(core.ActivationPayload).Err, &attempt)
	assert.Equal(t, KindAnotherTunnelIsOperational, attempt.Kind)
	assert.Equal(t, "c", attempt.Operational)
}

func TestModifyRenameWhileActivating(t *testing.T) {
	f := newFixture(t, "a")
	release := f.backend.Hold()

	f.m.StartActivation("a")
	f.waitFor(t, statusOf("a", core.StatusActivating))
	require.NoError(t, f.m.Modify(context.Background(), "a", "c", nil, core.OnDemandRules{}))
	release()

	f.waitFor(t, statusOf("c", core.StatusRestarting))
	f.waitFor(t, statusOf("c", core.StatusActive))
	st, _ := f.backend.Status(context.Background(), "a")
	assert.Equal(t, vpn.Down, st)
}

func TestModifyOnDemandOffDeactivates(t *testing.T) {
	f := newFixture(t, "a")
	require.NoError(t, f.m.SetOnDemandRules(context.Background(), "a", core.OnDemandRules{Option: core.OnDemandWiFiOnly}))
	f.activate(t, "a")

	require.NoError(t, f.m.Modify(context.Background(), "a", "a", nil, core.OnDemandRules{Option: core.OnDemandOff}))
	e := f.waitFor(t, ofType(core.EventOnDemandChanged))
	assert.Equal(t, core.OnDemandPayload{Tunnel: "a", Enabled: false}, e.Payload)
	f.waitFor(t, statusOf("a", core.StatusInactive))
}

func TestMove(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	require.NoError(t, f.m.Move(context.Background(), 0, 2))
	e := f.waitFor(t, ofType(core.EventTunnelMoved))
	assert.Equal(t, core.MovePayload{From: 0, To: 2, Tunnel: "a"}, e.Payload)
	assert.Equal(t, []string{"b", "c", "a"}, f.m.Names())

	recs, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", recs[2].Name)

	assert.ErrorIs(t, f.m.Move(context.Background(), 0, 3), ErrIndexOutOfRange)
}

func TestSetOnDemandEnabledFalseDeactivates(t *testing.T) {
	f := newFixture(t, "a")
	require.NoError(t, f.m.SetOnDemandRules(context.Background(), "a", core.OnDemandRules{Option: core.OnDemandAnyInterface}))
	e := f.waitFor(t, ofType(core.EventOnDemandChanged))
	assert.Equal(t, core.OnDemandPayload{Tunnel: "a", Enabled: true}, e.Payload)

	f.activate(t, "a")
	require.NoError(t, f.m.SetOnDemandEnabled(context.Background(), "a", false))
	f.waitFor(t, statusOf("a", core.StatusInactive))

	a, _ := f.m.TunnelNamed("a")
	assert.False(t, a.OnDemandEnabled)
	assert.Equal(t, core.OnDemandAnyInterface, a.OnDemand.Option)

	recs, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.False(t, recs[0].OnDemandEnabled)
}

func TestRemoveClearsRegistryAndRecents(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.activate(t, "a")
	assert.Equal(t, []string{"a"}, f.recents(t))

	require.NoError(t, f.m.Remove(context.Background(), "a"))
	e := f.waitFor(t, ofType(core.EventTunnelRemoved))
	assert.Equal(t, core.ListPayload{Index: 0, Tunnel: "a"}, e.Payload)

	assert.Equal(t, []string{"b"}, f.m.Names())
	assert.Empty(t, f.recents(t))
	_, stops := f.backend.Counts()
	assert.Equal(t, 1, stops, "an active tunnel is stopped before removal")

	assert.ErrorIs(t, f.m.Remove(context.Background(), "a"), ErrTunnelNotFound)
}

func TestRemoveContinuesWhenStopFails(t *testing.T) {
	f := newFixture(t, "a")
	f.activate(t, "a")
	f.backend.FailStop("a", errors.New("device busy"))

	require.NoError(t, f.m.Remove(context.Background(), "a"))
	assert.Empty(t, f.m.Names())
}

func TestRemoveMultiplePartialFailure(t *testing.T) {
	st := &mockStore{MemoryStore: store.NewMemory(records("a", "b", "c", "d")...)}
	st.On("Remove", "c").Return(errors.New("permission denied"))
	st.On("Remove", mock.Anything).Return(nil)

	defs := defaults.NewMemory()
	require.NoError(t, defs.SetStringSlice(recents.Key, []string{"c", "a"}))
	f := newFixtureWith(t, st, vpn.NewMemory(), defs)

	err := f.m.RemoveMultiple(context.Background(), []string{"a", "b", "c", "d"})
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	var rmErr *RemoveError
	require.ErrorAs(t, errs[0], &rmErr)
	assert.Equal(t, "c", rmErr.Name)

	assert.Equal(t, []string{"c"}, f.m.Names())
	assert.Equal(t, []string{"c"}, f.recents(t))
	st.AssertNumberOfCalls(t, "Remove", 4)

	// The survivor is still usable.
	f.activate(t, "c")
}

func TestRemoveInProgressStaysListed(t *testing.T) {
	f := newFixture(t, "a", "b")
	release := f.backend.Hold()
	defer release()

	f.m.StartActivation("a")
	f.waitFor(t, statusOf("a", core.StatusActivating))

	errc := make(chan error, 1)
	go func() { errc <- f.m.Remove(context.Background(), "a") }()

	// Activation reports the tunnel as gone while every accessor still lists it.
	f.waitRemoving(t, "a")
	assert.Equal(t, 2, f.m.NumberOfTunnels())
	assert.Equal(t, []string{"a", "b"}, f.m.Names())
	assert.Len(t, f.m.Tunnels(), 2)
	_, ok := f.m.TunnelNamed("a")
	assert.True(t, ok)

	release()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("remove did not finish")
	}
	assert.Equal(t, []string{"b"}, f.m.Names())
	_, ok = f.m.TunnelNamed("a")
	assert.False(t, ok)
}

func TestRemoveReturnsWhenClosedMidStop(t *testing.T) {
	f := newFixture(t, "a")
	release := f.backend.Hold()
	defer release()

	f.m.StartActivation("a")
	f.waitFor(t, statusOf("a", core.StatusActivating))

	errc := make(chan error, 1)
	go func() { errc <- f.m.Remove(context.Background(), "a") }()
	f.waitRemoving(t, "a")
	require.NoError(t, f.m.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("Remove still blocked after Close")
	}
}

func TestRefreshStatuses(t *testing.T) {
	f := newFixture(t, "a", "b")
	f.activate(t, "a")

	f.backend.SetStatus("a", vpn.Down)
	require.NoError(t, f.m.RefreshStatuses(context.Background()))
	f.waitFor(t, statusOf("a", core.StatusInactive))

	f.backend.SetStatus("b", vpn.Reasserting)
	require.NoError(t, f.m.RefreshStatuses(context.Background()))
	f.waitFor(t, statusOf("b", core.StatusReasserting))

	f.backend.SetStatus("a", vpn.Up)
	require.NoError(t, f.m.RefreshStatuses(context.Background()))
	a, _ := f.m.TunnelNamed("a")
	assert.Equal(t, core.StatusInactive, a.Status, "a second up tunnel is not adopted")
}

func TestClose(t *testing.T) {
	f := newFixture(t, "a")
	require.NoError(t, f.m.Close())

	_, ok := <-f.sub.C
	assert.False(t, ok)
	_, err := f.m.Add(context.Background(), "b", mustConf(t, confB), core.OnDemandRules{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NotPanics(t, func() { f.m.StartActivation("a") })
	assert.ErrorIs(t, f.m.RefreshStatuses(context.Background()), ErrClosed)

	var (
		mu    sync.Mutex
		warns []string
	)
	core.Log.SetHook(func(level core.LogLevel, tag, msg string) {
		if level == core.LevelWarn && tag == "Manager" {
			mu.Lock()
			warns = append(warns, msg)
			mu.Unlock()
		}
	})
	defer core.Log.SetHook(nil)
	f.m.Restart("a")
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, warns, `Restart of "a" dropped: manager closed`)
}
