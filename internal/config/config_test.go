package config_test

import (
	"errors"
	"testing"

	"github.com/openweald/weald/internal/config"
	"github.com/openweald/weald/pkg/provider/dialogue"
	dlgmock "github.com/openweald/weald/pkg/provider/dialogue/mock"
	"github.com/openweald/weald/pkg/provider/embeddings"
	embmock "github.com/openweald/weald/pkg/provider/embeddings/mock"
)

func TestLogLevelIsValid(t *testing.T) {
	t.Parallel()
	cases := []struct {
		level config.LogLevel
		want  bool
	}{
		{config.LogDebug, true},
		{config.LogInfo, true},
		{config.LogWarn, true},
		{config.LogError, true},
		{config.LogLevel("verbose"), false},
		{config.LogLevel(""), false},
	}
	for _, tc := range cases {
		if got := tc.level.IsValid(); got != tc.want {
			t.Errorf("LogLevel(%q).IsValid() = %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestStoreBackendIsValid(t *testing.T) {
	t.Parallel()
	cases := []struct {
		backend config.StoreBackend
		want    bool
	}{
		{config.StoreMemory, true},
		{config.StorePostgres, true},
		{config.StoreBackend("redis"), false},
	}
	for _, tc := range cases {
		if got := tc.backend.IsValid(); got != tc.want {
			t.Errorf("StoreBackend(%q).IsValid() = %v, want %v", tc.backend, got, tc.want)
		}
	}
}

func TestRulesTransportIsValid(t *testing.T) {
	t.Parallel()
	cases := []struct {
		transport config.RulesTransport
		want      bool
	}{
		{config.RulesTransportStdio, true},
		{config.RulesTransportHTTP, true},
		{config.RulesTransport("grpc"), false},
	}
	for _, tc := range cases {
		if got := tc.transport.IsValid(); got != tc.want {
			t.Errorf("RulesTransport(%q).IsValid() = %v, want %v", tc.transport, got, tc.want)
		}
	}
}

func TestRegistryCreateDialogue(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterDialogue("mock", func(e config.ProviderEntry) (dialogue.Provider, error) {
		return &dlgmock.Provider{ModelIDValue: e.Model}, nil
	})

	p, err := reg.CreateDialogue(config.ProviderEntry{Name: "mock", Model: "test-model"})
	if err != nil {
		t.Fatalf("CreateDialogue: %v", err)
	}
	if p.ModelID() != "test-model" {
		t.Errorf("ModelID = %q, want test-model", p.ModelID())
	}
}

func TestRegistryCreateEmbeddings(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterEmbeddings("mock", func(config.ProviderEntry) (embeddings.Provider, error) {
		return &embmock.Provider{DimensionsValue: 8}, nil
	})

	p, err := reg.CreateEmbeddings(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("CreateEmbeddings: %v", err)
	}
	if p.Dimensions() != 8 {
		t.Errorf("Dimensions = %d, want 8", p.Dimensions())
	}
}

func TestRegistryUnregisteredProvider(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	_, err := reg.CreateDialogue(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateDialogue error = %v, want ErrProviderNotRegistered", err)
	}
	_, err = reg.CreateEmbeddings(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateEmbeddings error = %v, want ErrProviderNotRegistered", err)
	}
}
