package internal

import (
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
)

func TestPublicClicksRouteRateLimited(t *testing.T) {
	srv := testsupport.NewTestServer(t, testsupport.TestServerOptions{
		RouteMountFunc: MountAppRoutes(RouteDeps{}),
	})
	routes := srv.App.GetRoutes(true)

	var clickRoute *fiber.Route
	for idx := range routes {
		route := routes[idx]
		if route.Method == fiber.MethodPost && route.Path == "/x/api/v1/clicks" {
			clickRoute = &routes[idx]
			break
		}
	}

	require.NotNil(t, clickRoute, "expected clicks route to be registered")

	// The rate limiter is wrapped in a conditional function that only applies
	// in production. In test environment, it passes through but the wrapper
	// still exists.
	hasRateLimiter := false
	var handlerNames []string
	for _, handler := range clickRoute.Handlers {
		name := runtime.FuncForPC(reflect.ValueOf(handler).Pointer()).Name()
		handlerNames = append(handlerNames, name)
		if strings.Contains(name, "middleware/limiter") || strings.Contains(name, "MountAppRoutes") {
			hasRateLimiter = true
			break
		}
	}

	require.Truef(t, hasRateLimiter, "expected rate limiter middleware for public clicks route, handlers: %v", handlerNames)
}

func TestAnalyticsRoutesRegistered(t *testing.T) {
	srv := testsupport.NewTestServer(t, testsupport.TestServerOptions{
		RouteMountFunc: MountAppRoutes(RouteDeps{}),
	})
	routes := srv.App.GetRoutes(true)

	expected := map[string]bool{
		"GET /_health":                      false,
		"POST /x/api/v1/clicks":             false,
		"GET /api/v1/reports":               false,
		"GET /api/v1/settings/aggregation":  false,
		"POST /api/v1/settings/aggregation": false,
		"POST /api/v1/jobs/backfill":        false,
	}

	for _, route := range routes {
		key := route.Method + " " + route.Path
		if _, ok := expected[key]; ok {
			expected[key] = true
		}
	}

	for key, found := range expected {
		require.Truef(t, found, "expected route %s to be registered", key)
	}
}
