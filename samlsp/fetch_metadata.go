package samlsp

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	xrv "github.com/mattermost/xml-roundtrip-validator"

	"github.com/insaplace/samlresponse/logger"

	saml "github.com/insaplace/samlresponse"
)

// ParseMetadata parses an IdP metadata document.
//
// Note: this is needed because IdP metadata is sometimes wrapped in an
// <EntitiesDescriptor> (a federation aggregate), and sometimes the top
// level element is a bare <EntityDescriptor>.
func ParseMetadata(data []byte) (*saml.EntityDescriptor, error) {
	entity := &saml.EntityDescriptor{}

	if err := xrv.Validate(bytes.NewBuffer(data)); err != nil {
		return nil, err
	}

	err := xml.Unmarshal(data, entity)

	// this comparison is ugly, but it is how the error is generated in encoding/xml
	if err != nil && err.Error() == "expected element type <EntityDescriptor> but have <EntitiesDescriptor>" {
		entities := &saml.EntitiesDescriptor{}
		if err := xml.Unmarshal(data, entities); err != nil {
			return nil, err
		}

		for i, e := range entities.EntityDescriptors {
			if len(e.IDPSSODescriptors) > 0 {
				return &entities.EntityDescriptors[i], nil
			}
		}
		return nil, errors.New("no entity found with IDPSSODescriptor")
	}
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// ParseEntitiesMetadata parses a federation aggregate, tolerating a bare
// single EntityDescriptor the same way ParseMetadata tolerates the
// reverse.
func ParseEntitiesMetadata(data []byte) (*saml.EntitiesDescriptor, error) {
	entities := &saml.EntitiesDescriptor{}
	if err := xrv.Validate(bytes.NewBuffer(data)); err != nil {
		return nil, err
	}

	err := xml.Unmarshal(data, entities)
	// this comparison is ugly, but it is how the error is generated in encoding/xml
	if err != nil && err.Error() == "expected element type <EntitiesDescriptor> but have <EntityDescriptor>" {
		entity := &saml.EntityDescriptor{}
		if err := xml.Unmarshal(data, entity); err != nil {
			return nil, err
		}

		entities.EntityDescriptors = []saml.EntityDescriptor{*entity}
		return entities, nil
	}
	if err != nil {
		return nil, err
	}
	return entities, nil
}

func fetchMetadata[R *saml.EntityDescriptor | *saml.EntitiesDescriptor](ctx context.Context, httpClient *http.Client, metadataURL url.URL, f func(data []byte) (R, error)) (R, error) {
	req, err := http.NewRequest("GET", metadataURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.DefaultLogger.Printf("Error while closing response body during fetch metadata: %v", err)
		}
	}()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("failed to fetch metadata: unexpected status code %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return f(data)
}

// FetchEntityMetatada fetches and parses a single IdP's metadata
// document from metadataURL.
func FetchEntityMetatada(ctx context.Context, httpClient *http.Client, metadataURL url.URL) (*saml.EntityDescriptor, error) {
	return fetchMetadata(ctx, httpClient, metadataURL, ParseMetadata)
}

// FetchEntitiesMetadata fetches and parses a federation metadata
// aggregate from metadataURL.
func FetchEntitiesMetadata(ctx context.Context, httpClient *http.Client, metadataURL url.URL) (*saml.EntitiesDescriptor, error) {
	return fetchMetadata(ctx, httpClient, metadataURL, ParseEntitiesMetadata)
}

// RegisterIDPMetadata fetches metadataURL, parses it as one IdP's
// EntityDescriptor, and registers the Settings it derives into reg under
// that IdP's entity ID. This is the network-facing counterpart of
// Registry.RegisterFromMetadata, for hosts that have a metadata URL
// rather than an already-fetched document (e.g. a one-off admin action
// wiring up a new IdP). Registry itself never refreshes metadata.
func RegisterIDPMetadata(ctx context.Context, reg *saml.Registry, httpClient *http.Client, metadataURL url.URL) error {
	entity, err := FetchEntityMetatada(ctx, httpClient, metadataURL)
	if err != nil {
		return fmt.Errorf("samlsp: fetch metadata from %s: %w", metadataURL.String(), err)
	}
	return reg.RegisterFromMetadata(entity)
}

// RegisterFederationMetadata fetches a federation aggregate from
// metadataURL and registers every member entity that carries an
// IDPSSODescriptor, skipping SP-only entries the aggregate may also
// list. A member that fails to register is logged and skipped, and the
// remaining entities are still attempted. The first registration error
// is returned only when no entity at all was registered; otherwise the
// result is nil.
func RegisterFederationMetadata(ctx context.Context, reg *saml.Registry, httpClient *http.Client, metadataURL url.URL) error {
	entities, err := FetchEntitiesMetadata(ctx, httpClient, metadataURL)
	if err != nil {
		return fmt.Errorf("samlsp: fetch federation metadata from %s: %w", metadataURL.String(), err)
	}

	var firstErr error
	registered := 0
	for i := range entities.EntityDescriptors {
		e := &entities.EntityDescriptors[i]
		if len(e.IDPSSODescriptors) == 0 {
			continue
		}
		if err := reg.RegisterFromMetadata(e); err != nil {
			logger.DefaultLogger.Printf("samlsp: register %s from federation metadata: %v", e.EntityID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		registered++
	}
	if registered == 0 && firstErr != nil {
		return firstErr
	}
	return nil
}
