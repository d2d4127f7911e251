package httpapi

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"

	"github.com/decent-stuff/decent-cloud/infrastructure/httputil"
	hexutil "github.com/decent-stuff/decent-cloud/infrastructure/hex"
	"github.com/decent-stuff/decent-cloud/internal/sync"
)

type pullSyncResponse struct {
	Data   string `json:"data"` // base64
	Cursor string `json:"cursor"`
	More   bool   `json:"more"`
}

// handleSyncPull serves one pull-sync round: the caller supplies an opaque
// cursor (or none, for the initial request) and an optional
// previously-retrieved window for tamper-checking.
func (a *API) handleSyncPull(w http.ResponseWriter, r *http.Request) {
	cur := sync.Cursor{}
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		parsed, err := sync.ParseCursor(raw)
		if err != nil {
			httputil.BadRequest(w, "invalid cursor")
			return
		}
		cur = parsed
	}
	if n := httputil.QueryInt64(r, "response_bytes", 0); n > 0 {
		cur.ResponseBytes = uint64(n)
	}

	var precedingWindow []byte
	if raw := r.URL.Query().Get("preceding_window"); raw != "" {
		decoded, err := hexutil.DecodeString(raw)
		if err != nil {
			httputil.BadRequest(w, "preceding_window must be hex-encoded")
			return
		}
		precedingWindow = decoded
	}

	result, err := a.Core.Sync.Pull(cur, precedingWindow)
	if err != nil {
		httputil.WriteErrorResponse(w, r, http.StatusConflict, "TAMPER_CHECK_FAILED", err.Error(), nil)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pullSyncResponse{
		Data:   base64.StdEncoding.EncodeToString(result.Data),
		Cursor: result.Cursor.Encode(),
		More:   result.Cursor.More,
	})
}

type pushSyncRequest struct {
	CallerPubKeyHex string `json:"caller_pubkey_hex"`
	Cursor          string `json:"cursor"`
	DataBase64      string `json:"data_base64"`
}

// handleSyncPush bootstraps an empty replica. Only the principal recorded
// by AuthorizePush may succeed.
func (a *API) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	var req pushSyncRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	callerKey, err := hexutil.DecodeString(req.CallerPubKeyHex)
	if err != nil {
		httputil.BadRequest(w, "caller_pubkey_hex is not valid hex")
		return
	}
	cur, err := sync.ParseCursor(req.Cursor)
	if err != nil {
		httputil.BadRequest(w, "invalid cursor")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.DataBase64)
	if err != nil {
		httputil.BadRequest(w, "data_base64 is not valid base64")
		return
	}

	if err := a.Core.Sync.Push(callerKey, cur, data); err != nil {
		a.writeSyncError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type authorizePushRequest struct {
	CallerPubKeyHex string `json:"caller_pubkey_hex"`
}

func (a *API) handleSyncAuthorizePush(w http.ResponseWriter, r *http.Request) {
	var req authorizePushRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	callerKey, err := hexutil.DecodeString(req.CallerPubKeyHex)
	if err != nil {
		httputil.BadRequest(w, "caller_pubkey_hex is not valid hex")
		return
	}
	if err := a.Core.Sync.AuthorizePush(callerKey); err != nil {
		a.writeSyncError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) writeSyncError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sync.ErrPushAlreadyAuthorized), errors.Is(err, sync.ErrUnauthorizedPusher):
		httputil.Forbidden(w, err.Error())
	case errors.Is(err, sync.ErrPushNotAuthorized):
		httputil.Unauthorized(w, err.Error())
	case errors.Is(err, io.ErrUnexpectedEOF):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.WriteErrorResponse(w, r, http.StatusBadRequest, "", err.Error(), nil)
	}
}
