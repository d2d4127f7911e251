package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	hexutil "github.com/decent-stuff/decent-cloud/infrastructure/hex"
	"github.com/decent-stuff/decent-cloud/internal/agent"
)

var heartbeatUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Agents connect from arbitrary provider networks; origin checking is
	// meaningless for a non-browser client.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsHeartbeatFrame struct {
	Samples []heartbeatBandwidthSample `json:"bandwidth_samples,omitempty"`
}

type wsAckFrame struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// handleHeartbeatStream upgrades to a WebSocket connection agents may hold
// open instead of polling handleHeartbeat: spec names gorilla/websocket as
// "a push-notification channel agents may use instead of polling". The
// handshake is authenticated once, by the same signed-header scheme as the
// plain HTTP endpoint; every subsequent frame is treated as a fresh
// heartbeat from that already-authenticated agent.
func (a *API) handleHeartbeatStream(w http.ResponseWriter, r *http.Request) {
	user, _, err := a.authenticateAgentRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if err := user.RequirePermission(permHeartbeat); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	conn, err := heartbeatUpgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.WithError(err).Warn("heartbeat stream upgrade failed")
		return
	}
	defer conn.Close()

	for {
		var frame wsHeartbeatFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		samples := make([]agent.BandwidthSample, 0, len(frame.Samples))
		ack := wsAckFrame{OK: true}
		for _, s := range frame.Samples {
			decoded, err := hexutil.DecodeString(s.ContractIDHex)
			if err != nil || len(decoded) != 32 {
				ack = wsAckFrame{OK: false, Error: "invalid contract_id_hex"}
				break
			}
			var cid [32]byte
			copy(cid[:], decoded)
			samples = append(samples, agent.BandwidthSample{
				ContractID:   cid,
				BytesIn:      s.BytesIn,
				BytesOut:     s.BytesOut,
				ObservedAtNs: a.NowNs(),
			})
		}

		if ack.OK {
			a.Core.Liveness.RecordHeartbeat(user.AgentPubKey, time.Now(), samples)
		}
		if err := conn.WriteJSON(ack); err != nil {
			return
		}
	}
}
