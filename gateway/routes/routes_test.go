package routes

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"tipsettle/core/events"
	"tipsettle/core/state"
	"tipsettle/core/types"
	"tipsettle/gateway/auth"
	"tipsettle/gateway/middleware"
	"tipsettle/native/tipping"
	"tipsettle/storage"
)

type apiFixture struct {
	handler http.Handler
	engine  *tipping.Engine
	stream  *Stream
	relayer *ecdsa.PrivateKey
	owner   *ecdsa.PrivateKey
	fan     *ecdsa.PrivateKey
	creator common.Address
}

func mustKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func address(key *ecdsa.PrivateKey) common.Address {
	return ethcrypto.PubkeyToAddress(key.PublicKey)
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		relayer: mustKey(t),
		owner:   mustKey(t),
		fan:     mustKey(t),
		creator: common.HexToAddress("0x00000000000000000000000000000000000000c7"),
	}
	manager := state.NewManager(storage.NewMemDB())
	tx, err := manager.BeginTx()
	require.NoError(t, err)
	require.NoError(t, tx.PutPolicy(&tipping.Policy{
		Owner:               address(f.owner),
		AuthorizedSigner:    address(f.relayer),
		Custody:             common.HexToAddress("0x00000000000000000000000000000000000000cc"),
		MaxTipAmount:        uint256.NewInt(100),
		BaseDailyCap:        uint256.NewInt(1000),
		StakeMultiplier:     uint256.NewInt(1),
		UnstakeDelaySeconds: 10,
	}))
	require.NoError(t, tx.SetBalance(address(f.fan), uint256.NewInt(1000)))
	require.NoError(t, tx.Commit())

	f.engine = tipping.NewEngine(manager)
	f.engine.SetNowFunc(func() int64 { return 1_000 })
	f.stream = NewStream(8, nil, nil)
	f.engine.SetEmitter(f.stream)

	authenticator := auth.NewAuthenticator(time.Minute, 0, nil, nil)
	f.handler = New(Config{
		Engine:  f.engine,
		Auth:    middleware.NewWalletAuth(authenticator, 1<<16, nil, nil),
		Stream:  f.stream,
		Relayer: NewRelayer(f.relayer),
	})
	return f
}

func (f *apiFixture) intent(amount, nonce uint64) tipping.TipIntent {
	return tipping.TipIntent{
		From:       address(f.fan),
		To:         f.creator,
		Amount:     uint256.NewInt(amount),
		ContentRef: tipping.ContentRefFromPointer("ipfs://bafy-post"),
		Nonce:      uint256.NewInt(nonce),
	}
}

func settleBody(t *testing.T, intent tipping.TipIntent, sig tipping.Signature) []byte {
	t.Helper()
	body, err := json.Marshal(SettleRequest{
		Intent: IntentRequest{
			From:       intent.From.Hex(),
			To:         intent.To.Hex(),
			Amount:     intent.Amount.Dec(),
			ContentRef: intent.ContentRef.Hex(),
			Nonce:      intent.Nonce.Dec(),
		},
		Signature: "0x" + hex.EncodeToString(sig.Bytes()),
	})
	require.NoError(t, err)
	return body
}

func (f *apiFixture) do(t *testing.T, method, path string, body []byte, signer *ecdsa.PrivateKey) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if signer != nil {
		require.NoError(t, auth.SignRequest(req, signer, body, time.Now()))
	}
	res := httptest.NewRecorder()
	f.handler.ServeHTTP(res, req)
	return res
}

func errorCode(t *testing.T, res *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	return body.Error.Code
}

func TestSettleEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	intent := f.intent(10, 1)
	digest, sig, err := tipping.SignIntent(f.relayer, intent)
	require.NoError(t, err)

	res := f.do(t, http.MethodPost, "/v1/tips", settleBody(t, intent, sig), nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var receipt ReceiptResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &receipt))
	require.Equal(t, digest.Hex(), receipt.Digest)
	require.Equal(t, address(f.relayer).Hex(), receipt.Signer)
	require.Equal(t, "10", receipt.DailyAmountSoFar)

	replay := f.do(t, http.MethodPost, "/v1/tips", settleBody(t, intent, sig), nil)
	require.Equal(t, http.StatusConflict, replay.Code)
	require.Equal(t, "nonce_already_used", errorCode(t, replay))

	status := f.do(t, http.MethodGet, "/v1/tips/"+digest.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, status.Code)
	var used DigestStatusResponse
	require.NoError(t, json.Unmarshal(status.Body.Bytes(), &used))
	require.True(t, used.Used)

	account := f.do(t, http.MethodGet, "/v1/accounts/"+f.creator.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, account.Code)
	var view AccountResponse
	require.NoError(t, json.Unmarshal(account.Body.Bytes(), &view))
	require.Equal(t, "10", view.Balance)
}

func TestSettleEndpointMapsRejections(t *testing.T) {
	f := newAPIFixture(t)

	tooBig := f.intent(101, 1)
	_, sig, err := tipping.SignIntent(f.relayer, tooBig)
	require.NoError(t, err)
	res := f.do(t, http.MethodPost, "/v1/tips", settleBody(t, tooBig, sig), nil)
	require.Equal(t, http.StatusUnprocessableEntity, res.Code)
	require.Equal(t, "amount_exceeds_cap", errorCode(t, res))

	foreign := f.intent(5, 2)
	_, sig, err = tipping.SignIntent(mustKey(t), foreign)
	require.NoError(t, err)
	res = f.do(t, http.MethodPost, "/v1/tips", settleBody(t, foreign, sig), nil)
	require.Equal(t, http.StatusForbidden, res.Code)
	require.Equal(t, "unauthorized_relayer", errorCode(t, res))

	res = f.do(t, http.MethodPost, "/v1/tips", []byte(`{"intent":{},"signature":"0x00"}`), nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "invalid_signature", errorCode(t, res))

	res = f.do(t, http.MethodPost, "/v1/tips", []byte(`{"unexpected":true}`), nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "bad_request", errorCode(t, res))
}

func TestDigestEndpointMatchesProtocol(t *testing.T) {
	f := newAPIFixture(t)
	body, err := json.Marshal(IntentRequest{
		From:           address(f.fan).Hex(),
		To:             f.creator.Hex(),
		Amount:         "10",
		ContentPointer: "ipfs://bafy-post",
		Nonce:          "1",
	})
	require.NoError(t, err)
	res := f.do(t, http.MethodPost, "/v1/tips/digest", body, nil)
	require.Equal(t, http.StatusOK, res.Code)
	var out DigestResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out))
	require.Equal(t, tipping.Digest(f.intent(10, 1)).Hex(), out.Digest)
	require.Len(t, out.Packed, 2+2*tipping.PackedIntentLength)
}

func TestStakeEndpointsRequireWalletSignature(t *testing.T) {
	f := newAPIFixture(t)
	body := []byte(`{"amount":"40"}`)

	res := f.do(t, http.MethodPost, "/v1/stake", body, nil)
	require.Equal(t, http.StatusUnauthorized, res.Code)

	res = f.do(t, http.MethodPost, "/v1/stake", body, f.fan)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var stake StakeResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &stake))
	require.Equal(t, "40", stake.Staked)

	res = f.do(t, http.MethodPost, "/v1/stake/unstake", []byte(`{"amount":"15"}`), f.fan)
	require.Equal(t, http.StatusOK, res.Code)
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &stake))
	require.Equal(t, "15", stake.PendingUnstake)
	require.NotNil(t, stake.UnlockAt)
	require.Equal(t, uint64(1_010), *stake.UnlockAt)

	res = f.do(t, http.MethodPost, "/v1/stake/withdraw", []byte(`{"amount":"15"}`), f.fan)
	require.Equal(t, http.StatusTooEarly, res.Code)
	require.Equal(t, "unstake_not_ready", errorCode(t, res))
}

func TestAdminEndpointsEnforceOwnership(t *testing.T) {
	f := newAPIFixture(t)
	newSigner := address(mustKey(t)).Hex()
	body := []byte(`{"signer":"` + newSigner + `"}`)

	res := f.do(t, http.MethodPost, "/v1/admin/signer", body, f.fan)
	require.Equal(t, http.StatusForbidden, res.Code)
	require.Equal(t, "unauthorized_admin", errorCode(t, res))

	res = f.do(t, http.MethodPost, "/v1/admin/signer", body, f.owner)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var policy PolicyResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &policy))
	require.Equal(t, newSigner, policy.AuthorizedSigner)

	res = f.do(t, http.MethodPost, "/v1/admin/blacklist", []byte(`{"address":"`+f.creator.Hex()+`","blacklisted":true}`), f.owner)
	require.Equal(t, http.StatusOK, res.Code)
	listed, err := f.engine.IsBlacklisted(context.Background(), f.creator)
	require.NoError(t, err)
	require.True(t, listed)

	res = f.do(t, http.MethodPost, "/v1/admin/policy", []byte(`{"minIntervalSeconds":5,"maxTipAmount":"nope"}`), f.owner)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestRelayEndpointSignsWithLocalKey(t *testing.T) {
	f := newAPIFixture(t)
	info := f.do(t, http.MethodGet, "/v1/relay", nil, nil)
	require.Equal(t, http.StatusOK, info.Code)
	require.Contains(t, info.Body.String(), address(f.relayer).Hex())

	body, err := json.Marshal(IntentRequest{
		From:   address(f.fan).Hex(),
		To:     f.creator.Hex(),
		Amount: "7",
		Nonce:  "9",
	})
	require.NoError(t, err)
	res := f.do(t, http.MethodPost, "/v1/relay", body, nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
}

func TestRelayEndpointAbsentWithoutRelayer(t *testing.T) {
	f := newAPIFixture(t)
	handler := New(Config{Engine: f.engine, Auth: middleware.NewWalletAuth(auth.NewAuthenticator(time.Minute, 0, nil, nil), 0, nil, nil)})
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/relay", nil))
	require.Equal(t, http.StatusNotFound, res.Code)
}

func TestEventStreamDeliversCommittedEvents(t *testing.T) {
	f := newAPIFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/events/stream?type="+events.TypeTipSettled, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")
	require.Eventually(t, func() bool { return f.stream.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	intent := f.intent(3, 1)
	digest, sig, err := tipping.SignIntent(f.relayer, intent)
	require.NoError(t, err)
	_, err = f.engine.Settle(ctx, intent, sig)
	require.NoError(t, err)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, events.TypeTipSettled, evt.Type)
	require.Equal(t, digest.Hex(), evt.Attributes["digest"])
}

func TestStreamDropsSlowSubscribers(t *testing.T) {
	stream := NewStream(1, nil, nil)
	_, updates, cancel := stream.Subscribe(nil)
	defer cancel()

	stream.Emit(events.SignerRotated{})
	stream.Emit(events.SignerRotated{})
	require.Equal(t, 0, stream.Len())

	_, ok := <-updates
	require.True(t, ok)
	_, ok = <-updates
	require.False(t, ok, "channel should be closed after overflow")
}

func TestStatusForUnknownErrorIsInternal(t *testing.T) {
	require.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("disk on fire")))
	require.Equal(t, http.StatusTooManyRequests, StatusFor(tipping.ErrRateLimited))
}
