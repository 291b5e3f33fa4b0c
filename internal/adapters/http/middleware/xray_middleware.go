package middleware

import (
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/labstack/echo/v4"
)

// XRayMiddleware opens a segment per request and records the route, the
// caller and the response status on it.
func XRayMiddleware(segmentName string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, seg := xray.BeginSegment(c.Request().Context(), segmentName)
			c.SetRequest(c.Request().Clone(ctx))

			err := next(c)

			_ = seg.AddAnnotation("route", c.Path())
			if id, ok := IdentityFrom(c); ok {
				_ = seg.AddAnnotation("subject", id.Subject)
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			_ = seg.AddMetadata("status", status)
			var segErr error
			if status >= 500 {
				segErr = fmt.Errorf("status %d", status)
				if err != nil {
					segErr = err
				}
			}
			seg.Close(segErr)
			return err
		}
	}
}
