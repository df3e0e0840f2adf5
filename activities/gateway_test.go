package activities

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortressi/paysaga"
)

func newRedisIdempotency(t *testing.T) (*RedisIdempotency, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisIdempotency(client, WithKeyPrefix("test")), mr
}

func stores(t *testing.T) map[string]IdempotencyStore {
	redisStore, _ := newRedisIdempotency(t)
	return map[string]IdempotencyStore{
		"memory": NewMemoryIdempotency(),
		"redis":  redisStore,
	}
}

func paymentInput(ref string) paysaga.PaymentInput {
	return paysaga.PaymentInput{
		Reference:      ref,
		Amount:         decimal.RequireFromString("750.00"),
		Currency:       "USD",
		ChargeAmount:   decimal.RequireFromString("1000"),
		ChargeCurrency: "CAD",
		Rate:           decimal.RequireFromString("0.75"),
	}
}

func TestGateway_CaptureIsIdempotentPerReference(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			gw := NewGateway(store)
			ctx := context.Background()

			first, err := gw.Capture(ctx, paymentInput("ref-1/capture"))
			require.NoError(t, err)
			again, err := gw.Capture(ctx, paymentInput("ref-1/capture"))
			require.NoError(t, err)
			other, err := gw.Capture(ctx, paymentInput("ref-2/capture"))
			require.NoError(t, err)

			assert.Equal(t, first.TransactionID, again.TransactionID)
			assert.NotEqual(t, first.TransactionID, other.TransactionID)
			assert.True(t, first.Amount.Equal(decimal.RequireFromString("750")))
		})
	}
}

func TestGateway_RefundOncePerTransaction(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			gw := NewGateway(store)
			ctx := context.Background()
			in := paysaga.RefundInput{Reference: "ref-1/refund/txn_1", TransactionID: "txn_1", Amount: decimal.NewFromInt(10), Currency: "USD"}

			first, err := gw.Refund(ctx, in)
			require.NoError(t, err)
			in.Reference = "ref-1/refund/retry"
			second, err := gw.Refund(ctx, in)
			require.NoError(t, err)
			assert.Equal(t, first.RefundID, second.RefundID)
		})
	}
}

func TestGateway_CaptureAfterReleaseIsRejected(t *testing.T) {
	gw := NewGateway(NewMemoryIdempotency())
	ctx := context.Background()

	auth, err := gw.Authorize(ctx, paymentInput("ref-1/authorize"))
	require.NoError(t, err)
	released, err := gw.ReleaseAuthorization(ctx, paysaga.ReleaseAuthorizationInput{AuthorizationID: auth.AuthorizationID})
	require.NoError(t, err)
	assert.True(t, released.Success)

	in := paymentInput("ref-1/capture")
	in.AuthorizationID = auth.AuthorizationID
	_, err = gw.Capture(ctx, in)
	require.Error(t, err)
	assert.Equal(t, paysaga.KindRejection, paysaga.Classify(err))
}

func TestGateway_DeclinesAboveLimit(t *testing.T) {
	gw := NewGateway(NewMemoryIdempotency(), WithDeclineAbove(decimal.NewFromInt(500)))

	_, err := gw.Authorize(context.Background(), paymentInput("ref-1/authorize"))
	require.Error(t, err)
	var rejection *paysaga.RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, paysaga.StepAuthorize, rejection.Step)
}

func TestRedisIdempotency_ConnectionErrorIsTransient(t *testing.T) {
	store, mr := newRedisIdempotency(t)
	mr.Close()

	_, err := store.Claim(context.Background(), "k", []byte("v"))
	require.Error(t, err)
	assert.Equal(t, paysaga.KindTransient, paysaga.Classify(err))
}

func TestRedisIdempotency_Lookup(t *testing.T) {
	store, mr := newRedisIdempotency(t)
	ctx := context.Background()

	_, ok, err := store.Lookup(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := store.Claim(ctx, "k", []byte("first"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(stored))
	stored, err = store.Claim(ctx, "k", []byte("second"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(stored))

	assert.True(t, mr.Exists("test:k"))
	assert.True(t, mr.TTL("test:k") > 0)
}

func TestNewRedisIdempotencyFromURL(t *testing.T) {
	_, err := NewRedisIdempotencyFromURL("not-a-valid-url")
	require.Error(t, err)

	store, err := NewRedisIdempotencyFromURL("redis://localhost:6379/0")
	require.NoError(t, err)
	assert.NotNil(t, store)
}
