package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campuskit/centpay/internal/config"
	"github.com/campuskit/centpay/internal/errHandler"
	"github.com/campuskit/centpay/internal/helper"
	"github.com/campuskit/centpay/internal/mocks"
)

func newTestWalletHandler(t *testing.T) (*WalletHandler, *mocks.MemoryStore) {
	t.Helper()

	db := mocks.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	baseURL := "http://localhost"
	var wg sync.WaitGroup
	help := helper.New(&baseURL, &wg, nil)
	errs := errHandler.New("", &mocks.MockMailer{}, logger, help)
	help.SetReporter(errs)

	cfg := &config.Config{}
	cfg.Payment.DefaultWalletCap = 10_000
	cfg.Payment.SessionTTL = 2 * time.Minute

	return NewWalletHandler(&WalletHandler{DB: db, Config: cfg, ErrHandler: errs}), db
}

func createWallet(t *testing.T, h *WalletHandler, ownerRef, ownerType string) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(map[string]string{
		"owner_ref":  ownerRef,
		"owner_type": ownerType,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/wallets", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleCreateWallet(rec, req)
	return rec
}

func TestCreateWalletAppliesCapByOwnerType(t *testing.T) {
	h, _ := newTestWalletHandler(t)

	rec := createWallet(t, h, "user-1", "user")
	require.Equal(t, http.StatusCreated, rec.Code)

	var personal struct {
		Data WalletResponseData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &personal))
	require.NotNil(t, personal.Data.Cap)
	require.Equal(t, int64(10_000), *personal.Data.Cap)
	require.Equal(t, int64(0), personal.Data.Balance)

	rec = createWallet(t, h, "assoc-1", "association")
	require.Equal(t, http.StatusCreated, rec.Code)

	var till struct {
		Data WalletResponseData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &till))
	require.Nil(t, till.Data.Cap, "association wallets are uncapped")
}

func TestCreateWalletRejectsDuplicateOwner(t *testing.T) {
	h, _ := newTestWalletHandler(t)

	rec := createWallet(t, h, "user-1", "user")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = createWallet(t, h, "user-1", "user")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateWalletValidation(t *testing.T) {
	h, _ := newTestWalletHandler(t)

	rec := createWallet(t, h, "", "robot")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestWalletDetailsAndHistory(t *testing.T) {
	h, _ := newTestWalletHandler(t)

	rec := createWallet(t, h, "user-1", "user")
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data WalletResponseData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	walletID := created.Data.ID

	req := httptest.NewRequest(http.MethodGet, "/v1/wallets/"+walletID, nil)
	req.SetPathValue("id", walletID)
	rec = httptest.NewRecorder()
	h.HandleWalletDetails(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/wallets/"+walletID+"/history", nil)
	req.SetPathValue("id", walletID)
	rec = httptest.NewRecorder()
	h.HandleWalletHistory(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/wallets/missing", nil)
	req.SetPathValue("id", "missing")
	rec = httptest.NewRecorder()
	h.HandleWalletDetails(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFreezeWallet(t *testing.T) {
	h, _ := newTestWalletHandler(t)

	rec := createWallet(t, h, "user-1", "user")
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Data WalletResponseData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	req := httptest.NewRequest(http.MethodPost, "/v1/wallets/"+created.Data.ID+"/freeze", nil)
	req.SetPathValue("id", created.Data.ID)
	rec = httptest.NewRecorder()
	h.HandleFreezeWallet(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var frozen struct {
		Data WalletResponseData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frozen))
	require.Equal(t, "frozen", frozen.Data.Status)
}
