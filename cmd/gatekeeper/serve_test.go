package main

import (
	"testing"

	"github.com/arturoeanton/knowledge-gatekeeper/internal/handler"
	"github.com/arturoeanton/knowledge-gatekeeper/pkg/config"
)

func TestAppConfigOutlastsEventStream(t *testing.T) {
	cfg := appConfig(&config.Config{AppName: "gatekeeper", MaxUploadBytes: 50 << 20})
	if cfg.WriteTimeout <= handler.StreamTimeout {
		t.Fatalf("write timeout %v cuts off %v event streams", cfg.WriteTimeout, handler.StreamTimeout)
	}
	if cfg.BodyLimit <= 50<<20 {
		t.Fatalf("body limit %d below the upload limit", cfg.BodyLimit)
	}
}
