package handler

import (
    "context"
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/quickshow-booking/internal/model"
    "github.com/iliyamo/quickshow-booking/internal/repository"
)

// ShowGetter loads a show by id.
type ShowGetter interface {
    GetByID(ctx context.Context, id string) (model.Show, error)
}

// ShowHandler serves show read endpoints.
type ShowHandler struct {
    Shows ShowGetter
}

// ShowSeats is the response of GET /v1/shows/:id/seats.
type ShowSeats struct {
    ShowID   string   `json:"show_id"`
    Occupied []string `json:"occupied_seats"`
    Count    int      `json:"count"`
}

// Seats returns the occupied seat ids of a show, sorted.  Holders are not
// exposed.
func (h *ShowHandler) Seats(c echo.Context) error {
    id := c.Param("id")
    if id == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "show id is required"})
    }
    show, err := h.Shows.GetByID(c.Request().Context(), id)
    if errors.Is(err, repository.ErrShowNotFound) {
        return c.JSON(http.StatusNotFound, echo.Map{"error": "show not found"})
    }
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load show"})
    }
    seats := show.OccupiedSeats.Seats()
    return c.JSON(http.StatusOK, ShowSeats{ShowID: show.ID, Occupied: seats, Count: len(seats)})
}
