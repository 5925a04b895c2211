package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"dashboard/domain"
	"dashboard/listmodel"
)

// Register wires up all dashboard routes on the provided Echo instance.
// deduper and notifier are optional: without a deduper Idempotency-Key is
// ignored, without a notifier the stream route is not registered.
func Register(e *echo.Echo, ctrl Controller, auth Authenticator, deduper Deduper, notifier Notifier, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	mw := []echo.MiddlewareFunc{Metrics(logger), RequireOwner(auth, false)}

	e.GET("/healthz", healthz())
	e.GET("/dashboard", getDashboard(ctrl), mw...)
	e.POST("/dashboard/items", createItem(ctrl, deduper, logger), mw...)
	e.POST("/dashboard/items/reorder", reorderItems(ctrl), mw...)
	e.PUT("/dashboard/items/:item", updateItem(ctrl), mw...)
	e.DELETE("/dashboard/items/:item", deleteItem(ctrl), mw...)
	e.POST("/dashboard/items/:item/pin", togglePin(ctrl), mw...)
	if notifier != nil {
		e.GET("/dashboard/stream", streamItems(ctrl, notifier), RequireOwner(auth, true))
	}
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}

func owner(c echo.Context) string {
	o, _ := OwnerFromContext(c.Request().Context())
	return o
}

// decodeBody reads a size-limited JSON body, rejecting unknown fields.
func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func getDashboard(ctrl Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		mode, err := listmodel.ParseViewMode(c.QueryParam("view"))
		if err != nil {
			return writeError(c, domain.NewValidationError("view", "must be grid or list"))
		}

		start := time.Now()
		items, err := ctrl.List(c.Request().Context(), owner(c))
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, err)
		}

		state := listmodel.NewState(items)
		state.SetSearchQuery(c.QueryParam("q"))
		state.SetViewMode(mode)
		view := state.View()
		m.SetItemsReturned(view.Matched)

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, view)
		m.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			m.SetErrorStage("encode_response")
		}
		return err
	}
}

func createItem(ctrl Controller, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		m := metricsFrom(c)
		o := owner(c)

		var in domain.ItemInput
		if err := decodeBody(c, &in); err != nil {
			return badRequest(c, "invalid body")
		}

		key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
		recorded := false
		if key != "" && deduper != nil {
			added, err := deduper.Add(ctx, o, key)
			switch {
			case err != nil:
				logger.WithError(err).WithField("owner", o).Warn("idempotency check failed; creating without it")
			case !added:
				m.SetErrorStage("duplicate")
				return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate", Message: "request with this Idempotency-Key was already processed"})
			default:
				recorded = true
			}
		}

		start := time.Now()
		item, err := ctrl.Create(ctx, o, in)
		m.ObserveStore(time.Since(start))
		if err != nil {
			if recorded {
				if rerr := deduper.Remove(ctx, o, key); rerr != nil {
					logger.Errorf("dedupe rollback failed, err: %v, key: %s, owner: %s", rerr, key, o)
				}
			}
			return writeError(c, err)
		}
		m.SetItemsReturned(1)
		c.Response().Header().Set(echo.HeaderLocation, "/dashboard/items/"+item.ID)
		return c.JSON(http.StatusCreated, item)
	}
}

func updateItem(ctrl Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		var patch domain.ItemPatch
		if err := decodeBody(c, &patch); err != nil {
			return badRequest(c, "invalid body")
		}

		start := time.Now()
		item, err := ctrl.Update(c.Request().Context(), owner(c), c.Param("item"), patch)
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, err)
		}
		m.SetItemsReturned(1)
		return c.JSON(http.StatusOK, item)
	}
}

func togglePin(ctrl Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		start := time.Now()
		item, err := ctrl.TogglePin(c.Request().Context(), owner(c), c.Param("item"))
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, err)
		}
		m.SetItemsReturned(1)
		return c.JSON(http.StatusOK, item)
	}
}

func deleteItem(ctrl Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		start := time.Now()
		err := ctrl.Delete(c.Request().Context(), owner(c), c.Param("item"))
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func reorderItems(ctrl Controller) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		var req reorderRequest
		if err := decodeBody(c, &req); err != nil {
			return badRequest(c, "invalid body")
		}

		start := time.Now()
		items, err := ctrl.Reorder(c.Request().Context(), owner(c), req.IDs)
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, err)
		}
		m.SetItemsReturned(len(items))
		return c.JSON(http.StatusOK, itemsResponse{Items: items})
	}
}
