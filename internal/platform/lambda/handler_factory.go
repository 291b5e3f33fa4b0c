package lambda

import (
	"context"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	echoadapter "github.com/awslabs/aws-lambda-go-api-proxy/echo"
	"github.com/labstack/echo/v4"
)

// Handler serves API Gateway HTTP API events through an echo router.
type Handler func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error)

// NewHandler adapts e. Requests under stagePrefix (for example "/prod")
// are routed as if the prefix were absent.
func NewHandler(e *echo.Echo, stagePrefix string) Handler {
	adapter := echoadapter.NewV2(e)
	prefix := "/" + strings.Trim(stagePrefix, "/")
	return func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		if prefix != "/" {
			switch {
			case req.RawPath == prefix:
				req.RawPath = "/"
			case strings.HasPrefix(req.RawPath, prefix+"/"):
				req.RawPath = strings.TrimPrefix(req.RawPath, prefix)
			}
		}
		return adapter.ProxyWithContext(ctx, req)
	}
}
