package engagement

import "context"

// Geolocator resolves a client IP into a coarse location label such as a
// country or region code. Implementations are external collaborators; the
// tracker only records the labels they return.
type Geolocator interface {
	Locate(ctx context.Context, ip string) (string, error)
}

// GeolocatorFunc adapts a function to the Geolocator interface.
type GeolocatorFunc func(ctx context.Context, ip string) (string, error)

// Locate calls f.
func (f GeolocatorFunc) Locate(ctx context.Context, ip string) (string, error) {
	return f(ctx, ip)
}
