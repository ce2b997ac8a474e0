package filter

import "errors"

var (
	ErrFilter           = errors.New("filter: malformed filter")
	ErrPropertyName     = errors.New("filter: unknown property name")
	ErrGeomPropertyName = errors.New("filter: property is not a geometry column")
	ErrFeatureID        = errors.New("filter: malformed feature identifier")

	ErrMixedIDKind            = errors.New("filter: FeatureId and GmlObjectId cannot be mixed")
	ErrFeatureIDLayerMismatch = errors.New("filter: feature identifier does not match the target layer")
	ErrNoIDColumn             = errors.New("filter: layer has no identifier column")
)
