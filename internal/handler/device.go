package handler

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/campuskit/centpay/internal/config"
	"github.com/campuskit/centpay/internal/context"
	"github.com/campuskit/centpay/internal/device"
	"github.com/campuskit/centpay/internal/errHandler"
	"github.com/campuskit/centpay/internal/helper"
	"github.com/campuskit/centpay/internal/request"
	"github.com/campuskit/centpay/internal/response"
	"github.com/campuskit/centpay/internal/smtp"
	"github.com/campuskit/centpay/internal/validator"
)

type DeviceHandler struct {
	Registry   *device.Registry
	Mailer     smtp.MailerInterface
	Helper     *helper.HelperRepository
	Config     *config.Config
	ErrHandler *errHandler.ErrorHandler
}

func NewDeviceHandler(handler *DeviceHandler) *DeviceHandler {
	return &DeviceHandler{
		Registry:   handler.Registry,
		Mailer:     handler.Mailer,
		Helper:     handler.Helper,
		Config:     handler.Config,
		ErrHandler: handler.ErrHandler,
	}
}

func (h *DeviceHandler) HandleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	user := context.ContextGetAuthenticatedUser(r)

	var input struct {
		Name      string              `json:"name"`
		PublicKey string              `json:"public_key"`
		Validator validator.Validator `json:"-"`
	}

	if err := request.DecodeJSON(w, r, &input); err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	publicKey, err := base64.StdEncoding.DecodeString(input.PublicKey)
	if err != nil {
		h.ErrHandler.BadRequest(w, r, errors.New("public key must be base64 encoded"))
		return
	}

	input.Validator.Check(validator.NotBlank(input.Name), "Device name is required")
	input.Validator.Check(len(publicKey) == ed25519.PublicKeySize, "Public key must be a 32-byte ed25519 key")

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator)
		return
	}

	registered, err := h.Registry.RequestActivation(r.Context(), user.ID, input.Name, publicKey)
	if err != nil {
		if errors.Is(err, device.ErrInvalidPublicKey) {
			response.JSONErrorResponse(w, nil, err.Error(), http.StatusUnprocessableEntity, nil)
			return
		}
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	// The activation link only ever travels to the owner's mailbox; the
	// registration response never carries the token.
	h.Helper.BackgroundTask(r, func() error {
		data := h.Helper.NewEmailData()
		data["DeviceName"] = registered.Name
		data["ExpiresAt"] = registered.TokenExpiresAt
		data["ActivationLink"] = device.ActivationLink(h.Config.BaseURL, registered.ActivationToken)

		return h.Mailer.Send(user.Email, data, "device-activation.tmpl")
	})

	message := "Device registered. Follow the activation link sent to your email."
	if err := response.JSONCreatedResponse(w, newDeviceResponse(registered), message); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *DeviceHandler) HandleActivateDevice(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		h.ErrHandler.BadRequest(w, r, errors.New("activation token is required"))
		return
	}

	activated, err := h.Registry.Activate(r.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrTokenNotFound):
			h.ErrHandler.NotFound(w, r)
		case errors.Is(err, device.ErrTokenExpired),
			errors.Is(err, device.ErrTokenAlreadyUsed):
			response.JSONErrorResponse(w, nil, err.Error(), http.StatusUnprocessableEntity, nil)
		default:
			h.ErrHandler.ServerError(w, r, err)
		}
		return
	}

	message := "Device activated successfully"
	if err := response.JSONOkResponse(w, newDeviceResponse(activated), message, nil); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *DeviceHandler) HandleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	user := context.ContextGetAuthenticatedUser(r)
	deviceID := r.PathValue("id")

	registered, err := h.Registry.Get(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			h.ErrHandler.NotFound(w, r)
			return
		}
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	if registered.OwnerUserID != user.ID {
		message := "Access denied"
		response.JSONErrorResponse(w, nil, message, http.StatusForbidden, nil)
		return
	}

	if err := h.Registry.Revoke(r.Context(), deviceID); err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	message := "Device revoked"
	if err := response.JSONOkResponse(w, nil, message, nil); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *DeviceHandler) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	user := context.ContextGetAuthenticatedUser(r)

	devices, err := h.Registry.ListByOwner(r.Context(), user.ID)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	data := make([]*DeviceResponseData, 0, len(devices))
	for i := range devices {
		data = append(data, newDeviceResponse(&devices[i]))
	}

	message := "Devices fetched successfully"
	if err := response.JSONOkResponse(w, data, message, nil); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}
