package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

const streamKeepAlive = 25 * time.Second

// streamItems sends the owner's items as server-sent events: once on connect
// and again after every change notification.
func streamItems(ctrl Controller, notifier Notifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		o := owner(c)
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		// subscribe before the first fetch so no change slips in between
		changes, unsubscribe := notifier.Subscribe(o)
		defer unsubscribe()

		ctx := c.Request().Context()
		keepAlive := time.NewTicker(streamKeepAlive)
		defer keepAlive.Stop()
		for {
			items, err := ctrl.List(ctx, o)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.Logger().Error(err)
				return err
			}
			data, err := sonic.Marshal(items)
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			if err := writeEvent(c, data); err != nil {
				return nil
			}
			flusher.Flush()

		wait:
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-changes:
					break wait
				case <-keepAlive.C:
					if _, err := c.Response().Write([]byte(": keep-alive\n\n")); err != nil {
						return nil
					}
					flusher.Flush()
				}
			}
		}
	}
}

func writeEvent(c echo.Context, data []byte) error {
	w := c.Response()
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
