package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignKnownAnswer(t *testing.T) {
	// RFC 4231 test case 2
	got := Sign("Jefe", []byte("what do ya want for nothing?"))
	assert.Equal(t, "sha256=5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", got)
}

func TestVerify(t *testing.T) {
	body := []byte(`{"event_id":"e1"}`)
	sig := Sign("s3cret", body)

	assert.True(t, Verify("s3cret", body, sig))
	assert.False(t, Verify("other", body, sig))
	assert.False(t, Verify("s3cret", []byte(`{"event_id":"e2"}`), sig))
	assert.False(t, Verify("s3cret", body, sig[len("sha256="):]))
}

func TestSendSetsHeadersAndSignsExactBody(t *testing.T) {
	body := []byte(`{"event_id":"e1","data":{"a":1}}`)
	var got *http.Request
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(time.Second, "test-agent")
	res, err := c.Send(context.Background(), Request{
		URL: srv.URL, Secret: "sec", DeliveryID: "d1", EventID: "e1", EventType: "memory.created", Body: body,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, body, gotBody)
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "test-agent", got.Header.Get("User-Agent"))
	assert.Equal(t, "memory.created", got.Header.Get("X-Webhook-Event"))
	assert.Equal(t, "e1", got.Header.Get("X-Webhook-Event-Id"))
	assert.Equal(t, "d1", got.Header.Get("X-Webhook-Delivery"))
	assert.True(t, Verify("sec", gotBody, got.Header.Get(SignatureHeader)))
}

func TestSendNon2xxIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res, err := NewClient(time.Second, "").Send(context.Background(), Request{URL: srv.URL, Body: []byte("{}")})
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 500, serr.StatusCode)
	assert.Equal(t, 500, res.StatusCode)
}

func TestSendDoesNotFollowRedirects(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer target.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	res, err := NewClient(time.Second, "").Send(context.Background(), Request{URL: srv.URL, Body: []byte("{}")})
	assert.Error(t, err)
	assert.Equal(t, http.StatusTemporaryRedirect, res.StatusCode)
	assert.Zero(t, hits.Load())
}

func TestSendTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	res, err := NewClient(50*time.Millisecond, "").Send(context.Background(), Request{URL: srv.URL, Body: []byte("{}")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Zero(t, res.StatusCode)
}

func TestBreakersOpenThenAdmitOneTrial(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreakers(2, time.Minute, func() time.Time { return now })
	key := "https://a.example"

	ok, _ := b.TryAcquire(key)
	assert.True(t, ok)
	b.OnFailure(key)
	b.OnFailure(key)

	ok, retryAt := b.TryAcquire(key)
	assert.False(t, ok)
	assert.Equal(t, now.Add(time.Minute), retryAt)

	// other targets are unaffected
	ok, _ = b.TryAcquire("https://b.example")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, _ = b.TryAcquire(key)
	assert.True(t, ok, "trial admitted once open window passes")
	ok, _ = b.TryAcquire(key)
	assert.False(t, ok, "only one trial at a time")

	b.OnSuccess(key)
	ok, _ = b.TryAcquire(key)
	assert.True(t, ok)
}

func TestAbortedTrialFreesSlot(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreakers(1, time.Minute, func() time.Time { return now })
	key := "https://a.example"

	b.OnFailure(key)
	now = now.Add(time.Minute)
	ok, _ := b.TryAcquire(key)
	require.True(t, ok)
	ok, _ = b.TryAcquire(key)
	require.False(t, ok)

	b.OnAbort(key)
	ok, _ = b.TryAcquire(key)
	assert.True(t, ok, "trial admitted again after an abort")

	// aborting a closed breaker counts nothing
	other := "https://b.example"
	b.OnAbort(other)
	ok, _ = b.TryAcquire(other)
	assert.True(t, ok)
}

func TestNilBreakersNeverTrip(t *testing.T) {
	b := NewBreakers(0, time.Minute, nil)
	assert.Nil(t, b)
	b.OnFailure("x")
	ok, _ := b.TryAcquire("x")
	assert.True(t, ok)
}

func TestTargetKey(t *testing.T) {
	assert.Equal(t, "https://hooks.example.com", TargetKey("https://hooks.example.com/a/b?c=d"))
	assert.Equal(t, "::", TargetKey("::"))
}
