package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	hexutil "github.com/decent-stuff/decent-cloud/infrastructure/hex"
	"github.com/decent-stuff/decent-cloud/internal/identity"
)

// errMissingActorHeaders is returned when a request signed by an
// account-owner (as opposed to a delegated agent) is missing one of the
// four headers spec.md:230-233 requires.
var errMissingActorHeaders = errors.New("httpapi: missing X-Public-Key/X-Timestamp/X-Nonce/X-Signature headers")

// errClockSkew mirrors agent.ErrClockSkew for the account-owner flow, which
// has no agent.Authenticator to source it from.
var errClockSkew = errors.New("httpapi: request timestamp outside permitted drift")

// errNonceReplay mirrors agent.ErrNonceReplay for the account-owner flow.
var errNonceReplay = errors.New("httpapi: nonce replay detected")

// actorPermittedDrift bounds how far X-Timestamp may diverge from wall-clock
// time, matching agent.Authenticator's default skew allowance since both
// flows share the same header scheme.
const actorPermittedDrift = 5 * time.Minute

// requireActorSignature verifies that the request was signed by the Ed25519
// key named in X-Public-Key over `timestamp || nonce || method || path ||
// body` (spec.md:230-233), checks the timestamp against clock skew, and
// rejects replayed nonces through the same nonce window the delegated-agent
// flow uses. This is the account-owner counterpart to agent.Authenticator:
// contract parties and transfer senders sign with their own identity rather
// than a delegation.
func (a *API) requireActorSignature(r *http.Request) ([]byte, []byte, error) {
	pubHex := r.Header.Get("X-Public-Key")
	ts := r.Header.Get("X-Timestamp")
	nonce := r.Header.Get("X-Nonce")
	sigHex := r.Header.Get("X-Signature")
	if pubHex == "" || ts == "" || nonce == "" || sigHex == "" {
		return nil, nil, errMissingActorHeaders
	}

	tsNanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, nil, errors.New("httpapi: X-Timestamp is not a decimal integer")
	}
	drift := time.Now().Sub(time.Unix(0, tsNanos))
	if drift < 0 {
		drift = -drift
	}
	if drift > actorPermittedDrift {
		return nil, nil, errClockSkew
	}

	pub, err := hexutil.DecodeString(pubHex)
	if err != nil {
		return nil, nil, errors.New("httpapi: X-Public-Key is not valid hex")
	}
	sig, err := hexutil.DecodeString(sigHex)
	if err != nil {
		return nil, nil, errors.New("httpapi: X-Signature is not valid hex")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, err
	}
	r.Body.Close()

	id, err := identity.VerifyingFromBytes(pub)
	if err != nil {
		return nil, nil, err
	}

	signed := make([]byte, 0, len(ts)+len(nonce)+len(r.Method)+len(r.URL.Path)+len(body))
	signed = append(signed, ts...)
	signed = append(signed, nonce...)
	signed = append(signed, r.Method...)
	signed = append(signed, r.URL.Path...)
	signed = append(signed, body...)
	if err := id.Verify(signed, sig); err != nil {
		return nil, nil, err
	}

	fresh, err := a.Core.Auth.Nonces.Observe(r.Context(), pubHex, nonce)
	if err != nil {
		return nil, nil, err
	}
	if !fresh {
		return nil, nil, errNonceReplay
	}

	return pub, body, nil
}
