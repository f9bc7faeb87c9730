package server

import "net/http"

// handleState is the REST twin of the websocket state:sync payload, for
// stations that poll instead of holding a socket open.
func handleState(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.FullStateFor(deviceFrom(r).DeviceID))
	}
}
