package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/koskedk/dwh-identity/internal/middleware"
	"github.com/koskedk/dwh-identity/internal/models"
	"github.com/koskedk/dwh-identity/internal/services"
	"github.com/koskedk/dwh-identity/internal/store"

	"github.com/gin-gonic/gin"
)

// UserHandler serves the steward and admin user management API
type UserHandler struct {
	users *services.UserService
}

func NewUserHandler(users *services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// ListStewards handles GET /api/users/stewards/:orgId
func (h *UserHandler) ListStewards(c *gin.Context) {
	stewards, err := h.users.ListStewards(c, c.Param("orgId"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": stewards})
}

// ListUsers handles GET /api/users. Stewards only see their organization.
func (h *UserHandler) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	params := store.NewPaginationParams(page, pageSize, c.Query("search"))

	var filters store.UserFilters
	filters.OrganizationID = c.Query("organization_id")
	if t, err := strconv.Atoi(c.Query("user_type")); err == nil {
		filters.UserType = models.UserType(t)
	}
	if v, err := strconv.Atoi(c.Query("user_confirmed")); err == nil {
		confirmation := models.UserConfirmation(v)
		filters.Confirmation = &confirmation
	}

	users, pagination, err := h.users.ListUsers(c, middleware.GetUser(c), params, filters)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"users":      users,
		"pagination": pagination,
	})
}

// Confirm handles POST /api/users/:id/confirm
func (h *UserHandler) Confirm(c *gin.Context) { h.change(c, h.users.ConfirmUser) }

// Deny handles POST /api/users/:id/deny
func (h *UserHandler) Deny(c *gin.Context) { h.change(c, h.users.DenyUser) }

// MakeSteward handles POST /api/users/:id/make-steward
func (h *UserHandler) MakeSteward(c *gin.Context) { h.change(c, h.users.MakeSteward) }

// MakeUser handles POST /api/users/:id/make-user
func (h *UserHandler) MakeUser(c *gin.Context) { h.change(c, h.users.MakeUser) }

type userChange func(ctx context.Context, actor *models.User, id string) (*models.User, error)

func (h *UserHandler) change(c *gin.Context, fn userChange) {
	user, err := fn(c, middleware.GetUser(c), c.Param("id"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Get handles GET /api/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.GetUser(c, middleware.GetUser(c), c.Param("id"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Update handles PUT /api/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	var in services.UserUpdate
	if err := c.ShouldBindJSON(&in); err != nil {
		apiError(c, services.ErrInvalidUserUpdate)
		return
	}
	user, err := h.users.UpdateUser(c, middleware.GetUser(c), c.Param("id"), in)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Delete handles DELETE /api/users/:id
func (h *UserHandler) Delete(c *gin.Context) {
	revoked, err := h.users.DeleteUser(c, middleware.GetUser(c), c.Param("id"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grants_revoked": revoked})
}
