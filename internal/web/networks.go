package web

import (
	"net/http"
	"strings"

	"rtkrover/internal/wifi"
)

// scanNetworks is replaced in tests.
var scanNetworks = wifi.Scan

type networksResponse struct {
	Interface string         `json:"iface"`
	Networks  []wifi.Network `json:"networks"`
	LastError string         `json:"last_error,omitempty"`
}

// networksHandler lists nearby access points. A failed scan still answers
// 200 with the error text so the status page can show it.
func networksHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	iface := strings.TrimSpace(r.URL.Query().Get("iface"))
	if iface == "" {
		iface = wifi.DefaultInterface
	}
	nets, err := scanNetworks(r.Context(), iface)
	resp := networksResponse{Interface: iface, Networks: nets}
	if resp.Networks == nil {
		resp.Networks = []wifi.Network{}
	}
	if err != nil {
		resp.LastError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
