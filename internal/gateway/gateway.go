package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/husobiker/qrcard-sub003/internal/dialect"
	"github.com/husobiker/qrcard-sub003/internal/models"
)

// MissingParameterError is returned before any network attempt when a
// required field is empty.
type MissingParameterError struct {
	Field string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameter: %s", e.Field)
}

// IsMissingParameter reports whether err is a *MissingParameterError.
func IsMissingParameter(err error) bool {
	var mp *MissingParameterError
	return errors.As(err, &mp)
}

// Gateway starts and ends calls on a PBX of unknown dialect.
type Gateway struct {
	prober  *dialect.Prober
	catalog *dialect.Catalog
}

func New(prober *dialect.Prober, catalog *dialect.Catalog) *Gateway {
	if catalog == nil {
		catalog = dialect.DefaultCatalog()
	}
	return &Gateway{prober: prober, catalog: catalog}
}

// Catalog returns the catalog the gateway probes with.
func (g *Gateway) Catalog() *dialect.Catalog {
	return g.catalog
}

// StartCall dials destination through the PBX described by params.
func (g *Gateway) StartCall(ctx context.Context, params models.ConnectionParams, destination string) (*dialect.CallResult, error) {
	if err := validate(params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(destination) == "" {
		return nil, &MissingParameterError{Field: "phone_number"}
	}

	log.Printf("[GATEWAY] Starting call to %s (santral %s)", destination, params.TenantID)
	return g.probe(ctx, params, dialect.StartIntent(destination))
}

// EndCall hangs up remoteCallID on the PBX described by params.
func (g *Gateway) EndCall(ctx context.Context, params models.ConnectionParams, remoteCallID string) (*dialect.CallResult, error) {
	if err := validate(params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(remoteCallID) == "" {
		return nil, &MissingParameterError{Field: "call_id"}
	}

	log.Printf("[GATEWAY] Ending call %s (santral %s)", remoteCallID, params.TenantID)
	return g.probe(ctx, params, dialect.EndIntent(remoteCallID))
}

func (g *Gateway) probe(ctx context.Context, params models.ConnectionParams, intent dialect.Intent) (*dialect.CallResult, error) {
	result, err := g.prober.Probe(ctx, params, intent, g.catalog.For(intent.Kind))
	if err != nil {
		log.Printf("[GATEWAY] %s call failed: %v", intent.Kind, err)
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("%s call: prober returned no result", intent.Kind)
	}
	return result, nil
}

func validate(params models.ConnectionParams) error {
	switch {
	case strings.TrimSpace(params.EndpointURL) == "":
		return &MissingParameterError{Field: "endpoint_url"}
	case strings.TrimSpace(params.TenantID) == "":
		return &MissingParameterError{Field: "santral_id"}
	case strings.TrimSpace(params.APIKey) == "":
		return &MissingParameterError{Field: "api_key"}
	}
	return nil
}
