package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/walletrecovery/internal/middleware"
	"github.com/charlesng35/walletrecovery/internal/models"
	"github.com/charlesng35/walletrecovery/internal/services"
	"github.com/charlesng35/walletrecovery/pkg/response"
)

// RecoveryMethodHandler serves the plain (non 2FA) recovery method endpoints.
type RecoveryMethodHandler struct {
	service *services.RecoveryMethodService
}

// NewRecoveryMethodHandler constructs a recovery method handler.
func NewRecoveryMethodHandler(service *services.RecoveryMethodService) *RecoveryMethodHandler {
	return &RecoveryMethodHandler{service: service}
}

type initializeMethodRequest struct {
	Kind   string `json:"kind" validate:"required,oneof=email phone"`
	Detail string `json:"detail" validate:"required,max=255"`
}

type validateCodeRequest struct {
	Kind         string `json:"kind" validate:"required,oneof=email phone"`
	Detail       string `json:"detail" validate:"required,max=255"`
	SecurityCode string `json:"securityCode" validate:"required"`
	PublicKey    string `json:"publicKey" validate:"max=128"`
}

type publicKeyRequest struct {
	PublicKey string `json:"publicKey" validate:"required,max=128"`
}

type deleteMethodRequest struct {
	Kind      string `json:"kind" validate:"required"`
	PublicKey string `json:"publicKey" validate:"max=128"`
}

// List returns every recovery method registered for the verified account.
func (h *RecoveryMethodHandler) List(c *gin.Context) {
	methods, err := h.service.List(requestContext(c), middleware.AccountID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, methods)
}

// Initialize registers an email or phone method and sends it a code.
func (h *RecoveryMethodHandler) Initialize(c *gin.Context) {
	var req initializeMethodRequest
	if !bindAndValidate(c, &req) {
		return
	}

	method, err := h.service.Initialize(requestContext(c), middleware.AccountID(c), models.MethodKind(req.Kind), req.Detail)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, method)
}

// ValidateSecurityCode confirms a method initialized earlier.
func (h *RecoveryMethodHandler) ValidateSecurityCode(c *gin.Context) {
	var req validateCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	method, err := h.service.ValidateSecurityCode(
		requestContext(c),
		middleware.AccountID(c),
		models.MethodKind(req.Kind),
		req.Detail,
		req.SecurityCode,
		req.PublicKey,
	)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, method)
}

// SeedPhraseAdded records a seed phrase key.
func (h *RecoveryMethodHandler) SeedPhraseAdded(c *gin.Context) {
	h.addKey(c, h.service.AddSeedPhrase)
}

// LedgerKeyAdded records a ledger key.
func (h *RecoveryMethodHandler) LedgerKeyAdded(c *gin.Context) {
	h.addKey(c, h.service.AddLedgerKey)
}

func (h *RecoveryMethodHandler) addKey(c *gin.Context, add func(ctx context.Context, accountID, publicKey string) (*models.RecoveryMethod, error)) {
	var req publicKeyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	method, err := add(requestContext(c), middleware.AccountID(c), req.PublicKey)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, method)
}

// Delete removes a plain recovery method.
func (h *RecoveryMethodHandler) Delete(c *gin.Context) {
	var req deleteMethodRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.service.Delete(requestContext(c), middleware.AccountID(c), models.MethodKind(req.Kind), req.PublicKey); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
