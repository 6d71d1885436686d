package ingest

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"

	"github.com/nicktill/tinysummary/pkg/config"
	"github.com/nicktill/tinysummary/pkg/httpx"
)

// Validation limits
const (
	MaxDatasetIDLength    = 256
	MaxProductNameLength  = 128
	MaxCRSLength          = 64
	MaxFootprintPolygons  = 1000
	MaxDatasetsPerRequest = config.MaxDatasetsPerRequest
)

var (
	// ErrEmptyRequest is returned when an ingest request carries no datasets
	ErrEmptyRequest = errors.New("no datasets in request")

	// ErrTooManyDatasets is returned when an ingest request contains too many datasets
	ErrTooManyDatasets = fmt.Errorf("too many datasets in request (max %d)", MaxDatasetsPerRequest)

	// ErrReservedProduct is returned for a product name that collides with a route segment
	ErrReservedProduct = fmt.Errorf("product name %q is reserved", httpx.AllProducts)

	// ErrInvalidFootprint is returned when a footprint is not a polygon or multipolygon
	ErrInvalidFootprint = errors.New("footprint must be a Polygon or MultiPolygon")

	// ErrFootprintTooComplex is returned when a multipolygon footprint has too many parts
	ErrFootprintTooComplex = fmt.Errorf("footprint has too many polygons (max %d)", MaxFootprintPolygons)
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateDataset checks a dataset payload against field and footprint limits
func ValidateDataset(p DatasetPayload) error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	if p.Product == httpx.AllProducts {
		return ErrReservedProduct
	}
	if p.Footprint == nil {
		return nil
	}
	return validateFootprint(p.Footprint.Geometry())
}

func validateFootprint(g orb.Geometry) error {
	switch v := g.(type) {
	case orb.Polygon:
		return validateRings(v)
	case orb.MultiPolygon:
		if len(v) > MaxFootprintPolygons {
			return fmt.Errorf("%w: got %d", ErrFootprintTooComplex, len(v))
		}
		for i, p := range v {
			if err := validateRings(p); err != nil {
				return fmt.Errorf("polygon %d: %w", i, err)
			}
		}
		return nil
	default:
		if g == nil {
			return fmt.Errorf("%w: empty geometry", ErrInvalidFootprint)
		}
		return fmt.Errorf("%w: got %s", ErrInvalidFootprint, g.GeoJSONType())
	}
}

// validateRings requires closed rings of at least four points
func validateRings(p orb.Polygon) error {
	if len(p) == 0 {
		return fmt.Errorf("%w: polygon has no rings", ErrInvalidFootprint)
	}
	for i, ring := range p {
		if len(ring) < 4 || !ring.Closed() {
			return fmt.Errorf("%w: ring %d is not a closed ring", ErrInvalidFootprint, i)
		}
	}
	return nil
}
