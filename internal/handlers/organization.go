package handlers

import (
	"net/http"

	"github.com/koskedk/dwh-identity/internal/middleware"
	"github.com/koskedk/dwh-identity/internal/services"

	"github.com/gin-gonic/gin"
)

// OrganizationHandler serves /api/organizations. Reads are public so the
// registration form can list organizations; writes need an admin session.
type OrganizationHandler struct {
	organizations *services.OrganizationService
}

func NewOrganizationHandler(organizations *services.OrganizationService) *OrganizationHandler {
	return &OrganizationHandler{organizations: organizations}
}

func (h *OrganizationHandler) List(c *gin.Context) {
	orgs, err := h.organizations.List(c)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organizations": orgs})
}

func (h *OrganizationHandler) Get(c *gin.Context) {
	org, err := h.organizations.Get(c, c.Param("id"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organization": org})
}

func (h *OrganizationHandler) Create(c *gin.Context) {
	var in services.OrganizationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		apiError(c, services.ErrInvalidOrganization)
		return
	}
	org, err := h.organizations.Create(c, middleware.GetUser(c), in)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"organization": org})
}

func (h *OrganizationHandler) Update(c *gin.Context) {
	var in services.OrganizationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		apiError(c, services.ErrInvalidOrganization)
		return
	}
	org, err := h.organizations.Update(c, middleware.GetUser(c), c.Param("id"), in)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organization": org})
}

func (h *OrganizationHandler) Delete(c *gin.Context) {
	if err := h.organizations.Delete(c, middleware.GetUser(c), c.Param("id")); err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListContacts handles GET /api/organizations/:id/contacts
func (h *OrganizationHandler) ListContacts(c *gin.Context) {
	contacts, err := h.organizations.ListContacts(c, middleware.GetUser(c), c.Param("id"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts})
}

func (h *OrganizationHandler) CreateContact(c *gin.Context) {
	var in services.ContactInput
	if err := c.ShouldBindJSON(&in); err != nil {
		apiError(c, services.ErrInvalidContact)
		return
	}
	contact, err := h.organizations.CreateContact(c, middleware.GetUser(c), c.Param("id"), in)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"contact": contact})
}

func (h *OrganizationHandler) UpdateContact(c *gin.Context) {
	var in services.ContactInput
	if err := c.ShouldBindJSON(&in); err != nil {
		apiError(c, services.ErrInvalidContact)
		return
	}
	contact, err := h.organizations.UpdateContact(
		c, middleware.GetUser(c), c.Param("id"), c.Param("contactId"), in)
	if err != nil {
		apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contact": contact})
}

func (h *OrganizationHandler) DeleteContact(c *gin.Context) {
	err := h.organizations.DeleteContact(c, middleware.GetUser(c), c.Param("id"), c.Param("contactId"))
	if err != nil {
		apiError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
