package netwatch

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"wg-tunnels/internal/core"
)

var (
	wifi  = Interface{Name: "wlan0", WiFi: true}
	wired = Interface{Name: "eth0"}
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name  string
		snap  Snapshot
		rules core.OnDemandRules
		want  bool
	}{
		{"off never", Snapshot{Interfaces: []Interface{wired}}, core.OnDemandRules{}, false},
		{"any online", Snapshot{Interfaces: []Interface{wired}}, core.OnDemandRules{Option: core.OnDemandAnyInterface}, true},
		{"any offline", Snapshot{}, core.OnDemandRules{Option: core.OnDemandAnyInterface}, false},
		{"wifi on wired", Snapshot{Interfaces: []Interface{wired}}, core.OnDemandRules{Option: core.OnDemandWiFiOnly}, false},
		{"wifi on wifi", Snapshot{Interfaces: []Interface{wifi}}, core.OnDemandRules{Option: core.OnDemandWiFiOnly}, true},
		{"non-wifi on wired", Snapshot{Interfaces: []Interface{wired, wifi}}, core.OnDemandRules{Option: core.OnDemandNonWiFiOnly}, true},
		{"non-wifi on wifi", Snapshot{Interfaces: []Interface{wifi}}, core.OnDemandRules{Option: core.OnDemandNonWiFiOnly}, false},
		{
			"ssid only joined",
			Snapshot{Interfaces: []Interface{wifi}, SSIDs: []string{"cafe"}},
			core.OnDemandRules{Option: core.OnDemandWiFiOnly, SSIDMatch: core.SSIDOnly, SSIDs: []string{"cafe"}},
			true,
		},
		{
			"ssid only unknown",
			Snapshot{Interfaces: []Interface{wifi}},
			core.OnDemandRules{Option: core.OnDemandWiFiOnly, SSIDMatch: core.SSIDOnly, SSIDs: []string{"cafe"}},
			false,
		},
		{
			"ssid except joined",
			Snapshot{Interfaces: []Interface{wifi}, SSIDs: []string{"home"}},
			core.OnDemandRules{Option: core.OnDemandAnyInterface, SSIDMatch: core.SSIDExcept, SSIDs: []string{"home"}},
			false,
		},
		{
			"ssid filter ignored on wired",
			Snapshot{Interfaces: []Interface{wired}},
			core.OnDemandRules{Option: core.OnDemandAnyInterface, SSIDMatch: core.SSIDOnly, SSIDs: []string{"cafe"}},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.snap.Matches(tt.rules))
		})
	}
}

func TestStatic(t *testing.T) {
	snap, err := Static{Interfaces: []Interface{wifi}}.Snapshot()
	assert.NoError(t, err)
	assert.True(t, snap.HasWiFi())
	assert.False(t, snap.HasNonWiFi())
}

func TestDebouncer(t *testing.T) {
	var calls atomic.Int32
	d := &debouncer{delay: 20 * time.Millisecond, fn: func() { calls.Add(1) }}
	for i := 0; i < 5; i++ {
		d.trigger()
	}
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}
