package handler

import (
    "encoding/json"
    "errors"
    "net/http"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/quickshow-booking/internal/events"
    "github.com/iliyamo/quickshow-booking/internal/middleware"
)

// EventsHandler accepts events from trusted producers and forwards them to
// the event transport.
type EventsHandler struct {
    Publisher events.Publisher
    // Known reports whether an event name has a consumer.  Nil accepts
    // every name.
    Known func(name string) bool
}

type ingestRequest struct {
    ID   string          `json:"id"`
    Name string          `json:"name"`
    Data json.RawMessage `json:"data"`
}

// Ingest handles POST /v1/events.  An id is generated when the producer
// does not supply one; producers that retry should send their own id so
// the retry is de-duplicated.  Responds 202 with the envelope id.
func (h *EventsHandler) Ingest(c echo.Context) error {
    var req ingestRequest
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid JSON body"})
    }
    req.Name = strings.TrimSpace(req.Name)
    if req.Name == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
    }
    if h.Known != nil && !h.Known(req.Name) {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown event name"})
    }
    if len(req.Data) == 0 || string(req.Data) == "null" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "data is required"})
    }
    if req.ID == "" {
        req.ID = uuid.NewString()
    }
    env := events.Envelope{ID: req.ID, Name: req.Name, Data: req.Data, TS: time.Now().UTC()}
    if err := env.Validate(); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
    }
    if err := h.Publisher.Publish(c.Request().Context(), env); err != nil {
        if errors.Is(err, events.ErrMalformed) {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
        }
        logrus.WithError(err).WithFields(logrus.Fields{"event": env.Name, "producer": middleware.Subject(c)}).
            Error("event publish failed")
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "event queue unavailable"})
    }
    return c.JSON(http.StatusAccepted, echo.Map{"id": env.ID})
}
