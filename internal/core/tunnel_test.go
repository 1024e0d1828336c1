package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTunnelStatusText(t *testing.T) {
	for st := StatusInactive; st <= StatusRestarting; st++ {
		text, err := st.MarshalText()
		require.NoError(t, err)
		var back TunnelStatus
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, st, back)
	}
	var st TunnelStatus
	assert.Error(t, st.UnmarshalText([]byte("waiting")))

	assert.False(t, StatusInactive.IsOperational())
	assert.True(t, StatusDeactivating.IsOperational())
	assert.True(t, StatusRestarting.IsOperational())
}

func TestParseOnDemandOption(t *testing.T) {
	cases := map[string]OnDemandOption{
		"":              OnDemandOff,
		"any_interface": OnDemandAnyInterface,
		"WiFi":          OnDemandWiFiOnly,
		"ethernet":      OnDemandNonWiFiOnly,
	}
	for in, want := range cases {
		got, err := ParseOnDemandOption(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOnDemandOption("cellular")
	assert.Error(t, err)
}

func TestOnDemandRulesYAML(t *testing.T) {
	in := OnDemandRules{Option: OnDemandWiFiOnly, SSIDMatch: SSIDExcept, SSIDs: []string{"Cafe"}}
	data, err := yaml.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), "option: wifi")
	assert.Contains(t, string(data), "ssid_match: except")

	var out OnDemandRules
	require.NoError(t, yaml.Unmarshal(data, &out))
	assert.Equal(t, in, out)

	data, err = yaml.Marshal(OnDemandRules{Option: OnDemandAnyInterface})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "ssid_match")
}

func TestOnDemandRulesJSON(t *testing.T) {
	var rules OnDemandRules
	require.NoError(t, json.Unmarshal([]byte(`{"option":"non_wifi","ssid_match":"only","ssids":["Home"]}`), &rules))
	assert.Equal(t, OnDemandRules{Option: OnDemandNonWiFiOnly, SSIDMatch: SSIDOnly, SSIDs: []string{"Home"}}, rules)

	err := json.Unmarshal([]byte(`{"option":"sometimes"}`), &rules)
	assert.Error(t, err)
}
