package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/walletrecovery/internal/chain"
	"github.com/charlesng35/walletrecovery/internal/middleware"
	"github.com/charlesng35/walletrecovery/internal/models"
	"github.com/charlesng35/walletrecovery/internal/services"
	"github.com/charlesng35/walletrecovery/pkg/response"
)

// TwoFactorHandler exposes the multisig 2FA endpoints. Every route sits behind the ownership gate.
type TwoFactorHandler struct {
	service *services.TwoFactorService
}

// NewTwoFactorHandler constructs a 2FA handler.
func NewTwoFactorHandler(service *services.TwoFactorService) *TwoFactorHandler {
	return &TwoFactorHandler{service: service}
}

type initTwoFactorRequest struct {
	Method struct {
		Kind   string `json:"kind"`
		Detail string `json:"detail" validate:"max=255"`
	} `json:"method"`
}

type sendTwoFactorRequest struct {
	RequestID *chain.Int64 `json:"requestId"`
}

type verifyTwoFactorRequest struct {
	SecurityCode string       `json:"securityCode"`
	RequestID    *chain.Int64 `json:"requestId"`
}

// requestIDOrNone maps an absent requestId to the "no pending request" sentinel.
func requestIDOrNone(id *chain.Int64) int64 {
	if id == nil {
		return models.NoRequestID
	}
	return int64(*id)
}

// GetAccessKey returns the public key the service confirms multisig requests with.
func (h *TwoFactorHandler) GetAccessKey(c *gin.Context) {
	publicKey, err := h.service.GetAccessKey(requestContext(c), middleware.AccountID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"publicKey": publicKey})
}

// Init starts 2FA setup for the verified account.
func (h *TwoFactorHandler) Init(c *gin.Context) {
	var req initTwoFactorRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.service.InitCode(requestContext(c), middleware.AccountID(c), services.MethodInput{
		Kind:   models.MethodKind(req.Method.Kind),
		Detail: req.Method.Detail,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Send issues a fresh code for activation or for a pending multisig request.
func (h *TwoFactorHandler) Send(c *gin.Context) {
	var req sendTwoFactorRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.service.SendNewCode(requestContext(c), middleware.AccountID(c), requestIDOrNone(req.RequestID))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Verify consumes a code and, for pending requests, confirms the request on chain.
func (h *TwoFactorHandler) Verify(c *gin.Context) {
	var req verifyTwoFactorRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.service.VerifyCode(requestContext(c), middleware.AccountID(c), req.SecurityCode, requestIDOrNone(req.RequestID))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}
