package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campuskit/centpay/internal/coordinator"
	"github.com/campuskit/centpay/internal/errHandler"
	"github.com/campuskit/centpay/internal/helper"
	"github.com/campuskit/centpay/internal/mocks"
	"github.com/campuskit/centpay/internal/models"
	"github.com/campuskit/centpay/internal/topup"
)

const webhookSecret = "test-webhook-secret"

func newTestTopUpHandler(t *testing.T) (*TopUpHandler, *mocks.MemoryStore) {
	t.Helper()

	db := mocks.NewMemoryStore()
	producer := mocks.NewMockProducer()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	coord := coordinator.New(db, producer, logger, 720*time.Hour)
	processor := topup.NewProcessor(coord, topup.NewHMACVerifier(webhookSecret), logger)

	baseURL := "http://localhost"
	var wg sync.WaitGroup
	help := helper.New(&baseURL, &wg, nil)
	errs := errHandler.New("", &mocks.MockMailer{}, logger, help)
	help.SetReporter(errs)

	return NewTopUpHandler(&TopUpHandler{Processor: processor, ErrHandler: errs}), db
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, h *TopUpHandler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/topup", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, signature)
	rec := httptest.NewRecorder()

	h.HandleTopUpWebhook(rec, req)
	return rec
}

func TestWebhookCreditsWallet(t *testing.T) {
	h, db := newTestTopUpHandler(t)
	ctx := context.Background()

	wallet, err := db.Wallet().Insert(ctx, &models.Wallet{
		OwnerRef:  "user-1",
		OwnerType: models.WalletOwnerUser,
		Cap:       sql.NullInt64{Int64: 10_000, Valid: true},
	})
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"external_ref": "prov-ref-1",
		"wallet_id":    wallet,
		"amount":       600,
	})
	require.NoError(t, err)

	rec := postWebhook(t, h, body, signBody(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Success bool `json:"success"`
		Data    struct {
			Result string `json:"result"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)
	require.Equal(t, "applied", envelope.Data.Result)

	w, _, err := db.Wallet().GetOne(ctx, wallet)
	require.NoError(t, err)
	require.Equal(t, int64(600), w.Balance)

	// Redelivery acknowledges without crediting again.
	rec = postWebhook(t, h, body, signBody(body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "already_applied", envelope.Data.Result)

	w, _, err = db.Wallet().GetOne(ctx, wallet)
	require.NoError(t, err)
	require.Equal(t, int64(600), w.Balance)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h, _ := newTestTopUpHandler(t)

	body := []byte(`{"external_ref":"prov-ref-1","wallet_id":"w","amount":100}`)

	rec := postWebhook(t, h, body, "deadbeef")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postWebhook(t, h, body, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookValidatesPayload(t *testing.T) {
	h, _ := newTestTopUpHandler(t)

	body := []byte(`{"external_ref":"","wallet_id":"","amount":-5}`)

	rec := postWebhook(t, h, body, signBody(body))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestWebhookAcknowledgesRejection(t *testing.T) {
	h, db := newTestTopUpHandler(t)
	ctx := context.Background()

	wallet, err := db.Wallet().Insert(ctx, &models.Wallet{
		OwnerRef:  "user-1",
		OwnerType: models.WalletOwnerUser,
		Cap:       sql.NullInt64{Int64: 100, Valid: true},
	})
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"external_ref": "prov-ref-1",
		"wallet_id":    wallet,
		"amount":       500,
	})
	require.NoError(t, err)

	rec := postWebhook(t, h, body, signBody(body))
	require.Equal(t, http.StatusOK, rec.Code, "a rejection still acknowledges the delivery")

	var envelope struct {
		Data struct {
			Result string `json:"result"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "rejected", envelope.Data.Result)

	w, _, err := db.Wallet().GetOne(ctx, wallet)
	require.NoError(t, err)
	require.Equal(t, int64(0), w.Balance)
}
