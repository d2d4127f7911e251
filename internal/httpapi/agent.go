package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/decent-stuff/decent-cloud/infrastructure/httputil"
	hexutil "github.com/decent-stuff/decent-cloud/infrastructure/hex"
	"github.com/decent-stuff/decent-cloud/internal/agent"
)

// defaultAgentPermissions is granted to every agent a setup token mints;
// pool operators needing finer-grained scopes manage delegations directly
// rather than through the self-service registration endpoint.
const defaultAgentPermissions = agent.PermHeartbeat | agent.PermHealthReport | agent.PermStatusUpdate

type createPoolRequest struct {
	PoolID          string `json:"pool_id"`
	Name            string `json:"name"`
	Location        string `json:"location"`
	ProvisionerType string `json:"provisioner_type"`
}

func (a *API) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	providerKey, body, err := a.requireActorSignature(r)
	if err != nil {
		httputil.Unauthorized(w, err.Error())
		return
	}
	var req createPoolRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}

	p := &agent.Pool{
		PoolID:          req.PoolID,
		ProviderPubKey:  providerKey,
		Name:            req.Name,
		Location:        agent.Region(req.Location),
		ProvisionerType: req.ProvisionerType,
		CreatedAt:       time.Now(),
	}
	if err := a.Core.Pools.Create(p); err != nil {
		if errors.Is(err, agent.ErrUnknownRegion) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalError(w, "create pool failed")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (a *API) handleListPools(w http.ResponseWriter, r *http.Request) {
	pubHex := r.URL.Query().Get("provider_pubkey_hex")
	if pubHex == "" {
		httputil.BadRequest(w, "provider_pubkey_hex query parameter is required")
		return
	}
	pub, err := hexutil.DecodeString(pubHex)
	if err != nil {
		httputil.BadRequest(w, "provider_pubkey_hex is not valid hex")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a.Core.Pools.ListByProvider(pub))
}

type createSetupTokenRequest struct {
	Label      string `json:"label,omitempty"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

func (a *API) handleCreateSetupToken(w http.ResponseWriter, r *http.Request) {
	poolID := mux.Vars(r)["id"]
	pool, ok := a.Core.Pools.Get(poolID)
	if !ok {
		httputil.NotFound(w, "pool not found")
		return
	}

	var req createSetupTokenRequest
	_ = httputil.DecodeJSONOptional(w, r, &req)
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	token, err := a.Core.SetupTokens.Create(poolID, req.Label, pool.Location, ttl, time.Now())
	if err != nil {
		httputil.InternalError(w, "create setup token failed")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, token)
}

type registerAgentRequest struct {
	SetupToken     string `json:"setup_token"`
	AgentPubKeyHex string `json:"agent_pubkey_hex"`
}

// handleRegisterAgent consumes a one-time setup token and materializes a
// delegation with the default agent permission set, per spec §4.8.
func (a *API) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	agentPubKey, err := hexutil.DecodeString(req.AgentPubKeyHex)
	if err != nil {
		httputil.BadRequest(w, "agent_pubkey_hex is not valid hex")
		return
	}

	poolID, label, err := a.Core.SetupTokens.ValidateAndUse(req.SetupToken, agentPubKey, time.Now())
	if err != nil {
		httputil.Unauthorized(w, err.Error())
		return
	}
	pool, ok := a.Core.Pools.Get(poolID)
	if !ok {
		httputil.InternalError(w, "setup token bound to an unknown pool")
		return
	}

	delegation := &agent.Delegation{
		AgentPubKey:    agentPubKey,
		ProviderPubKey: pool.ProviderPubKey,
		Permissions:    defaultAgentPermissions,
		CreatedAt:      time.Now(),
		Label:          label,
		PoolID:         poolID,
	}
	a.Core.Delegations.Put(delegation)

	httputil.WriteJSON(w, http.StatusCreated, delegation)
}

type heartbeatRequest struct {
	Samples []heartbeatBandwidthSample `json:"bandwidth_samples,omitempty"`
}

type heartbeatBandwidthSample struct {
	ContractIDHex string `json:"contract_id_hex"`
	BytesIn       uint64 `json:"bytes_in"`
	BytesOut      uint64 `json:"bytes_out"`
}

// handleHeartbeat authenticates the delegated agent request per spec §4.8's
// signed-header scheme and records liveness plus any attached bandwidth
// samples.
func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	user, body, err := a.authenticateAgentRequest(r)
	if err != nil {
		httputil.Unauthorized(w, err.Error())
		return
	}
	if err := user.RequirePermission(permHeartbeat); err != nil {
		httputil.Forbidden(w, err.Error())
		return
	}

	var req heartbeatRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httputil.BadRequest(w, "invalid request body")
			return
		}
	}

	samples := make([]agent.BandwidthSample, 0, len(req.Samples))
	for _, s := range req.Samples {
		decoded, err := hexutil.DecodeString(s.ContractIDHex)
		if err != nil || len(decoded) != 32 {
			httputil.BadRequest(w, "invalid contract_id_hex in bandwidth sample")
			return
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

	a.Core.Liveness.RecordHeartbeat(user.AgentPubKey, time.Now(), samples)
	w.WriteHeader(http.StatusNoContent)
}

// authenticateAgentRequest reconstructs an agent.Request from the standard
// header set and the (already-consumed) body, then delegates to
// core.State.Auth.
func (a *API) authenticateAgentRequest(r *http.Request) (agent.AuthenticatedUser, []byte, error) {
	pubHex := r.Header.Get(agent.HeaderAgentPubKey)
	if pubHex == "" {
		pubHex = r.Header.Get("X-Public-Key")
	}
	pub, err := hexutil.DecodeString(pubHex)
	if err != nil {
		return agent.AuthenticatedUser{}, nil, errors.New("httpapi: invalid agent pubkey header")
	}
	sig, err := hexutil.DecodeString(r.Header.Get(agent.HeaderSignature))
	if err != nil {
		return agent.AuthenticatedUser{}, nil, errors.New("httpapi: invalid signature header")
	}

	body := []byte{}
	if r.Body != nil {
		read, err := io.ReadAll(r.Body)
		if err != nil {
			return agent.AuthenticatedUser{}, nil, err
		}
		r.Body.Close()
		body = read
	}

	user, err := a.Core.Auth.Authenticate(context.Background(), agent.Request{
		AgentPubKey: pub,
		Timestamp:   r.Header.Get(agent.HeaderTimestamp),
		Nonce:       r.Header.Get(agent.HeaderNonce),
		Signature:   sig,
		Method:      r.Method,
		Path:        r.URL.Path,
		Body:        body,
	})
	return user, body, err
}
