package handlers

import (
	"net/http"

	"github.com/koskedk/dwh-identity/internal/middleware"
	"github.com/koskedk/dwh-identity/internal/registry"
	"github.com/koskedk/dwh-identity/internal/services"

	"github.com/gin-gonic/gin"
)

// ClientHandler serves the admin client registration API under /api/clients
type ClientHandler struct {
	clients  *services.ClientService
	registry *registry.Registry
}

func NewClientHandler(clients *services.ClientService, reg *registry.Registry) *ClientHandler {
	return &ClientHandler{clients: clients, registry: reg}
}

func (h *ClientHandler) List(c *gin.Context) {
	clients, err := h.clients.ListClients(c)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clients": clients})
}

func (h *ClientHandler) Get(c *gin.Context) {
	client, err := h.clients.GetClient(c, c.Param("clientId"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": client})
}

// Create returns the plaintext secret of a confidential client once
func (h *ClientHandler) Create(c *gin.Context) {
	var req services.CreateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, registry.ErrInvalidClient)
		return
	}
	resp, err := h.clients.CreateClient(c, middleware.GetUser(c), req)
	if err != nil {
		apiError(c, err)
		return
	}
	noStore(c)
	c.JSON(http.StatusCreated, resp)
}

func (h *ClientHandler) Update(c *gin.Context) {
	var req services.UpdateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, registry.ErrInvalidClient)
		return
	}
	client, err := h.clients.UpdateClient(c, middleware.GetUser(c), c.Param("clientId"), req)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": client})
}

func (h *ClientHandler) RegenerateSecret(c *gin.Context) {
	secret, err := h.clients.RegenerateSecret(c, middleware.GetUser(c), c.Param("clientId"))
	if err != nil {
		apiError(c, err)
		return
	}
	noStore(c)
	c.JSON(http.StatusOK, gin.H{"client_id": c.Param("clientId"), "client_secret": secret})
}

// ListScopes handles GET /api/scopes
func (h *ClientHandler) ListScopes(c *gin.Context) {
	scopes, err := h.registry.ListScopes(c)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"scopes": scopes})
}
