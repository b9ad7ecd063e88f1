package main

import (
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/newcloud/newcloud/pkg/gateway"
	"github.com/newcloud/newcloud/pkg/observability"
)

func main() {
	port := getEnv("NEWCLOUD_GATEWAY_PORT", "3000")
	backendAddr := getEnv("NEWCLOUD_BACKEND_URL", "http://localhost:8080")
	clientAddr := getEnv("NEWCLOUD_CLIENT_URL", "http://localhost:5173")

	backendURL, err := url.Parse(backendAddr)
	if err != nil {
		logrus.Fatalf("Invalid backend URL %q: %v", backendAddr, err)
	}
	clientURL, err := url.Parse(clientAddr)
	if err != nil {
		logrus.Fatalf("Invalid client URL %q: %v", clientAddr, err)
	}

	logger := observability.NewLogger(observability.InfoLevel, nil)
	proxy := gateway.NewProxy(backendURL, clientURL, logger)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      proxy,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Infof("Gateway listening on :%s (backend %s, client %s)", port, backendAddr, clientAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.Fatalf("Gateway server failed: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
