package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"place-service/internal/errs"
	"place-service/internal/metrics"
	"place-service/internal/models"
	"place-service/internal/services"
)

type PlaceHandler struct {
	registry *services.PlaceRegistry
}

func NewPlaceHandler(registry *services.PlaceRegistry) *PlaceHandler {
	return &PlaceHandler{
		registry: registry,
	}
}

// createPlaceRequest accepts numbers or numeric strings for the coordinates.
type createPlaceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Lat         any    `json:"lat"`
	Lng         any    `json:"lng"`
}

// NearbyResponse wraps the results of a nearby query.
type NearbyResponse struct {
	Results []models.NearbyPlace `json:"results"`
}

// ErrorResponse is returned on every failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(ErrorResponse{Error: message})
}

// coordinate reports whether v is present and parses it as a number.
func coordinate(v any) (value float64, present bool, ok bool) {
	switch x := v.(type) {
	case nil:
		return 0, false, true
	case float64:
		return x, true, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, true, err == nil
	default:
		return 0, true, false
	}
}

// CreatePlace stores a new place
// @Summary Create a place
// @Description Store a place in the object store and index its position
// @Tags places
// @Accept json
// @Produce json
// @Param place body createPlaceRequest true "Place data"
// @Success 201 {object} models.CreatedPlace "Place created"
// @Failure 400 {object} ErrorResponse "Invalid JSON or missing fields"
// @Failure 405 {object} ErrorResponse "Method not allowed"
// @Failure 409 {object} ErrorResponse "Concurrent modification, retry"
// @Failure 429 {object} ErrorResponse "Too many requests"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /create [post]
func (h *PlaceHandler) CreatePlace(c *fiber.Ctx) error {
	if c.Method() != fiber.MethodPost {
		return errorJSON(c, http.StatusMethodNotAllowed, "Method not allowed")
	}

	var req createPlaceRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		log.Printf("Error parsing place data: %v", err)
		return errorJSON(c, http.StatusBadRequest, "Invalid JSON")
	}

	in := models.CreatePlaceInput{Name: req.Name, Description: req.Description}
	lat, latPresent, latOK := coordinate(req.Lat)
	lng, lngPresent, lngOK := coordinate(req.Lng)
	if latPresent {
		in.Lat = &lat
	}
	if lngPresent {
		in.Lng = &lng
	}
	if strings.TrimSpace(in.Name) != "" && latPresent && lngPresent && (!latOK || !lngOK) {
		return errorJSON(c, http.StatusBadRequest, "lat, lng must be numbers")
	}

	created, err := h.registry.Create(c.UserContext(), in)
	if err != nil {
		return respondError(c, "creating place", err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// NearbyPlaces finds places around a point
// @Summary Find nearby places
// @Description Return up to 50 places within km of the point, nearest first
// @Tags places
// @Produce json
// @Param lat query number true "Latitude"
// @Param lng query number true "Longitude"
// @Param km query number false "Radius in kilometres" default(5)
// @Success 200 {object} NearbyResponse "Places found (possibly none)"
// @Failure 400 {object} ErrorResponse "Missing or non-numeric parameters"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /nearby [get]
func (h *PlaceHandler) NearbyPlaces(c *fiber.Ctx) error {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "lat, lng must be numbers")
	}
	lng, err := strconv.ParseFloat(c.Query("lng"), 64)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "lat, lng must be numbers")
	}
	q := models.NearbyQuery{Lat: &lat, Lng: &lng}
	if raw := c.Query("km"); raw != "" {
		km, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "km must be a number")
		}
		q.RadiusKm = &km
	}

	lm := metrics.NewLatencyMetrics()
	results, err := h.registry.Nearby(c.UserContext(), q, lm)
	if err != nil {
		return respondError(c, "finding nearby places", err)
	}

	for name, value := range lm.GetHeaders() {
		c.Set(name, value)
	}
	return c.JSON(NearbyResponse{Results: results})
}

// Stats reports the size of both stores
// @Summary Store statistics
// @Tags places
// @Produce json
// @Success 200 {object} services.RegistryStats
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /stats [get]
func (h *PlaceHandler) Stats(c *fiber.Ctx) error {
	st, err := h.registry.Stats(c.UserContext())
	if err != nil {
		return respondError(c, "reading stats", err)
	}
	return c.JSON(st)
}

// respondError maps the error taxonomy to status codes. Internal detail is
// logged, never returned.
func respondError(c *fiber.Ctx, action string, err error) error {
	log.Printf("Error %s: Kind=%s, Error=%v", action, services.FailureKind(err), err)

	var validation *errs.ValidationError
	switch {
	case errors.As(err, &validation):
		return errorJSON(c, http.StatusBadRequest, validation.Error())
	case errs.IsConflict(err):
		return errorJSON(c, http.StatusConflict, "Concurrent modification, please retry")
	case errs.IsDuplicateKey(err):
		return errorJSON(c, http.StatusConflict, "Place id already taken, please retry")
	default:
		return errorJSON(c, http.StatusInternalServerError, "Internal server error")
	}
}
