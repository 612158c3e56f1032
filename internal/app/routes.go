package app

import (
	"net/http"

	"github.com/campuskit/centpay/internal/handler"
	"github.com/campuskit/centpay/internal/middleware"
)

func (app *Application) routes() http.Handler {
	mux := http.NewServeMux()

	middlewareRepo := middleware.New(app.errorHandler, app.Logger, &app.Config)

	healthHandler := handler.NewHealthCheckHandler(app.errorHandler)
	walletHandler := handler.NewWalletHandler(&handler.WalletHandler{
		DB:         app.DB,
		Config:     &app.Config,
		ErrHandler: app.errorHandler,
	})
	sessionHandler := handler.NewSessionHandler(&handler.SessionHandler{
		Machine:    app.Sessions,
		ErrHandler: app.errorHandler,
	})
	transactionHandler := handler.NewTransactionHandler(&handler.TransactionHandler{
		Coordinator: app.Coordinator,
		DB:          app.DB,
		ErrHandler:  app.errorHandler,
	})
	deviceHandler := handler.NewDeviceHandler(&handler.DeviceHandler{
		Registry:   app.Devices,
		Mailer:     app.Mailer,
		Helper:     app.helper,
		Config:     &app.Config,
		ErrHandler: app.errorHandler,
	})
	topUpHandler := handler.NewTopUpHandler(&handler.TopUpHandler{
		Processor:  app.TopUps,
		ErrHandler: app.errorHandler,
	})

	mux.HandleFunc("GET /status", healthHandler.HandleHealthCheck)

	// The top-up webhook authenticates with its HMAC signature, not a bearer
	// token; the activation link arrives by email and is its own credential.
	mux.HandleFunc("POST /v1/webhooks/topup", topUpHandler.HandleTopUpWebhook)
	mux.HandleFunc("GET /v1/devices/activate", deviceHandler.HandleActivateDevice)

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/wallets", walletHandler.HandleCreateWallet)
	protected.HandleFunc("GET /v1/wallets/{id}", walletHandler.HandleWalletDetails)
	protected.HandleFunc("GET /v1/wallets/{id}/history", walletHandler.HandleWalletHistory)
	protected.HandleFunc("POST /v1/wallets/{id}/freeze", walletHandler.HandleFreezeWallet)

	protected.HandleFunc("POST /v1/sessions", sessionHandler.HandleCreateSession)
	protected.HandleFunc("GET /v1/sessions/{id}", sessionHandler.HandleSessionDetails)
	protected.HandleFunc("POST /v1/sessions/{id}/scan", sessionHandler.HandleScanSession)
	protected.HandleFunc("POST /v1/sessions/{id}/assertion", sessionHandler.HandleSubmitAssertion)
	protected.HandleFunc("POST /v1/sessions/{id}/cancel", sessionHandler.HandleCancelSession)

	protected.HandleFunc("GET /v1/transactions/{id}", transactionHandler.HandleTransactionDetails)
	protected.HandleFunc("POST /v1/transactions/{id}/refund", transactionHandler.HandleRefundTransaction)

	protected.HandleFunc("POST /v1/devices", deviceHandler.HandleRegisterDevice)
	protected.HandleFunc("GET /v1/devices", deviceHandler.HandleListDevices)
	protected.HandleFunc("POST /v1/devices/{id}/revoke", deviceHandler.HandleRevokeDevice)

	mux.Handle("/v1/", middlewareRepo.RequireAuthenticatedUser(protected))

	return middlewareRepo.LogAccess(middlewareRepo.RecoverPanic(middlewareRepo.Authenticate(mux)))
}
