package connection

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/config"
	"github.com/morrigan-server/morrigan/internal/storage"
	"github.com/morrigan-server/morrigan/internal/utils"
)

// ListConnectionsHandler returns every record in the store. Operator-facing,
// no mutation.
func (svc *Service) ListConnectionsHandler(c echo.Context) error {
	records, err := svc.registry.FindAll(c.Request().Context())
	if err != nil {
		logrus.WithField("prefix", "ListConnectionsHandler").Errorf("list failed: %v", err)
		return c.JSON(utils.HttpResError("Store unavailable.", http.StatusInternalServerError))
	}
	return c.JSON(http.StatusOK, records)
}

// GetConnectionHandler returns one record, or 204 when it does not exist.
func (svc *Service) GetConnectionHandler(c echo.Context) error {
	id := c.Param("connectionId")
	rec, err := svc.registry.FindByID(c.Request().Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return c.NoContent(http.StatusNoContent)
	}
	if err != nil {
		logrus.WithField("prefix", "GetConnectionHandler").Errorf("lookup of %v failed: %v", id, err)
		return c.JSON(utils.HttpResError("Store unavailable.", http.StatusInternalServerError))
	}
	return c.JSON(http.StatusOK, rec)
}

// SendMessageHandler pushes a message to a connection over HTTP. The route is
// mounted behind the connection.send capability gate; the body must be a JSON
// object with a string type. Sender failures come back in the result body.
func (svc *Service) SendMessageHandler(c echo.Context) error {
	log := logrus.WithField("prefix", "SendMessageHandler")

	id := c.Param("connectionId")
	if id == "" {
		badRequestMetric.Inc()
		return c.JSON(utils.StateResError("requestError", "No connection id provided.", http.StatusBadRequest))
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, config.Config.MaxBodySize))
	if err != nil {
		badRequestMetric.Inc()
		log.Errorf("failed to read body: %v", err)
		return c.JSON(utils.StateResError("requestError", "No message provided.", http.StatusBadRequest))
	}
	if len(body) == 0 {
		badRequestMetric.Inc()
		return c.JSON(utils.StateResError("requestError", "No message provided.", http.StatusBadRequest))
	}

	var probe map[string]any
	if err := sonic.Unmarshal(body, &probe); err != nil {
		badRequestMetric.Inc()
		return c.JSON(utils.StateResError("requestError", "Message is not a JSON object.", http.StatusBadRequest))
	}
	if _, ok := probe["type"].(string); !ok {
		badRequestMetric.Inc()
		return c.JSON(utils.StateResError("requestError", "Message has no type.", http.StatusBadRequest))
	}

	result := svc.Send(c.Request().Context(), id, body)
	return c.JSON(http.StatusOK, result)
}
