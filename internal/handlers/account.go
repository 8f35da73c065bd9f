package handlers

import (
	"errors"
	"net/http"

	"github.com/koskedk/dwh-identity/internal/middleware"
	"github.com/koskedk/dwh-identity/internal/services"

	"github.com/gin-gonic/gin"
)

// AccountHandler serves self-service registration, email confirmation,
// password reset and consent management
type AccountHandler struct {
	accounts *services.AccountService
	consents *services.ConsentService
}

func NewAccountHandler(accounts *services.AccountService, consents *services.ConsentService) *AccountHandler {
	return &AccountHandler{accounts: accounts, consents: consents}
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"    binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register handles POST /account/register
func (h *AccountHandler) Register(c *gin.Context) {
	var in services.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		apiError(c, services.ErrInvalidRegistration)
		return
	}

	user, err := h.accounts.Register(c, in)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// ConfirmEmail handles POST /account/confirm-email
func (h *AccountHandler) ConfirmEmail(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, services.ErrInvalidAccountToken)
		return
	}

	user, err := h.accounts.ConfirmEmail(c, req.Token)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// ForgotPassword handles POST /account/forgot-password. The answer is the
// same whether or not the email is registered.
func (h *AccountHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, services.ErrInvalidRegistration)
		return
	}

	if err := h.accounts.ForgotPassword(c, req.Email); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// ResetPassword handles POST /account/reset-password
func (h *AccountHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, services.ErrInvalidAccountToken)
		return
	}

	if err := h.accounts.ResetPassword(c, req.Token, req.Password); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Me handles GET /account/me
func (h *AccountHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": middleware.GetUser(c)})
}

// ListConsents handles GET /account/consents
func (h *AccountHandler) ListConsents(c *gin.Context) {
	consents, err := h.consents.List(c, middleware.GetUser(c).ID)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"consents": consents})
}

// RevokeConsent handles DELETE /account/consents/:clientId
func (h *AccountHandler) RevokeConsent(c *gin.Context) {
	n, err := h.consents.Revoke(c, middleware.GetUser(c).ID, c.Param("clientId"))
	if errors.Is(err, services.ErrConsentNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grants_revoked": n})
}
