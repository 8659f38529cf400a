package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/escuela-app/enrollment-api/internal/models"
	"github.com/escuela-app/enrollment-api/internal/service"
	appErrors "github.com/escuela-app/enrollment-api/pkg/errors"
	"github.com/escuela-app/enrollment-api/pkg/response"
)

// CareerHandler exposes career endpoints.
type CareerHandler struct {
	careers *service.CareerService
}

// NewCareerHandler constructs CareerHandler.
func NewCareerHandler(careers *service.CareerService) *CareerHandler {
	return &CareerHandler{careers: careers}
}

// List godoc
// @Summary List careers
// @Tags Careers
// @Produce json
// @Param search query string false "Search by code or name"
// @Param active query bool false "Filter by active state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /careers [get]
func (h *CareerHandler) List(c *gin.Context) {
	var filter models.CareerFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.Active = boolQuery(c, "active")
	filter.Page, filter.PageSize = pageQuery(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	careers, pagination, err := h.careers.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, careers, pagination)
}

// Get godoc
// @Summary Get career detail
// @Tags Careers
// @Produce json
// @Param id path string true "Career ID"
// @Success 200 {object} response.Envelope
// @Router /careers/{id} [get]
func (h *CareerHandler) Get(c *gin.Context) {
	career, err := h.careers.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, career, nil)
}

// Create godoc
// @Summary Create career
// @Tags Careers
// @Accept json
// @Produce json
// @Param payload body service.CreateCareerRequest true "Career payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /careers [post]
func (h *CareerHandler) Create(c *gin.Context) {
	var req service.CreateCareerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	career, err := h.careers.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, career)
}

// Update godoc
// @Summary Update career
// @Tags Careers
// @Accept json
// @Produce json
// @Param id path string true "Career ID"
// @Param payload body service.UpdateCareerRequest true "Career payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /careers/{id} [put]
func (h *CareerHandler) Update(c *gin.Context) {
	var req service.UpdateCareerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	career, err := h.careers.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, career, nil)
}

// Delete godoc
// @Summary Delete career
// @Tags Careers
// @Produce json
// @Param id path string true "Career ID"
// @Success 204
// @Failure 409 {object} response.Envelope "Career has dependent subjects or students"
// @Security BearerAuth
// @Router /careers/{id} [delete]
func (h *CareerHandler) Delete(c *gin.Context) {
	if err := h.careers.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func boolQuery(c *gin.Context, name string) *bool {
	switch c.Query(name) {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	}
	return nil
}

func pageQuery(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	return page, size
}
