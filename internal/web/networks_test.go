package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"rtkrover/internal/wifi"
)

func stubScan(t *testing.T, fn func(ctx context.Context, iface string) ([]wifi.Network, error)) {
	t.Helper()
	old := scanNetworks
	scanNetworks = fn
	t.Cleanup(func() { scanNetworks = old })
}

func TestAPIWiFiNetworks(t *testing.T) {
	var gotIface string
	stubScan(t, func(_ context.Context, iface string) ([]wifi.Network, error) {
		gotIface = iface
		return []wifi.Network{{SSID: "FieldNet", Signal: 72, Security: "WPA2"}}, nil
	})
	ts := newTestServer(t, NewStatus(), nil, nil, nil)

	resp, err := http.Get(ts.URL + "/api/wifi/networks")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, wifi.DefaultInterface, gotIface)

	var body networksResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "wlan0", body.Interface)
	require.Len(t, body.Networks, 1)
	require.Empty(t, body.LastError)
}

func TestAPIWiFiNetworks_ScanErrorReported(t *testing.T) {
	stubScan(t, func(context.Context, string) ([]wifi.Network, error) {
		return nil, errors.New("wifi: nmcli: not running")
	})
	ts := newTestServer(t, NewStatus(), nil, nil, nil)

	resp, err := http.Get(ts.URL + "/api/wifi/networks?iface=wlan1")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body networksResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "wlan1", body.Interface)
	require.NotNil(t, body.Networks)
	require.Empty(t, body.Networks)
	require.Equal(t, "wifi: nmcli: not running", body.LastError)
}
