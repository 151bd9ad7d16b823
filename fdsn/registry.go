package fdsn

import "sort"

// Provider describes a single FDSN data center endpoint and its capabilities.
type Provider struct {
	ID   string
	Name string

	// BaseURL is the root of the fdsnws service tree, e.g.
	// https://service.iris.edu
	BaseURL string

	// SupportsBulk indicates the dataselect service accepts POST bulk bodies.
	SupportsBulk bool

	// SupportsAuth indicates the queryauth endpoint is available for
	// restricted data.
	SupportsAuth bool

	// SupportsEvents indicates the provider runs an event service.
	SupportsEvents bool

	// Priority is the fixed trust order used when deduplicating events;
	// lower value wins.
	Priority int
}

// DefaultProviders is the static catalog of known data centers.
var DefaultProviders = map[string]Provider{
	"IRIS":   {ID: "IRIS", Name: "IRIS DMC", BaseURL: "https://service.iris.edu", SupportsBulk: true, SupportsAuth: true, SupportsEvents: true, Priority: 0},
	"USGS":   {ID: "USGS", Name: "USGS NEIC", BaseURL: "https://earthquake.usgs.gov", SupportsBulk: false, SupportsAuth: false, SupportsEvents: true, Priority: 1},
	"ISC":    {ID: "ISC", Name: "ISC", BaseURL: "http://www.isc.ac.uk", SupportsBulk: false, SupportsAuth: false, SupportsEvents: true, Priority: 2},
	"GFZ":    {ID: "GFZ", Name: "GEOFON", BaseURL: "https://geofon.gfz-potsdam.de", SupportsBulk: true, SupportsAuth: true, SupportsEvents: true, Priority: 3},
	"ORFEUS": {ID: "ORFEUS", Name: "ORFEUS EIDA", BaseURL: "https://www.orfeus-eu.org", SupportsBulk: true, SupportsAuth: true, SupportsEvents: false, Priority: 4},
	"RESIF":  {ID: "RESIF", Name: "RESIF", BaseURL: "https://ws.resif.fr", SupportsBulk: true, SupportsAuth: true, SupportsEvents: false, Priority: 5},
	"INGV":   {ID: "INGV", Name: "INGV", BaseURL: "https://webservices.ingv.it", SupportsBulk: true, SupportsAuth: false, SupportsEvents: true, Priority: 6},
	"ETH":    {ID: "ETH", Name: "ETHZ SED", BaseURL: "http://eida.ethz.ch", SupportsBulk: true, SupportsAuth: false, SupportsEvents: true, Priority: 7},
	"NCEDC":  {ID: "NCEDC", Name: "NCEDC", BaseURL: "https://service.ncedc.org", SupportsBulk: true, SupportsAuth: false, SupportsEvents: true, Priority: 8},
	"SCEDC":  {ID: "SCEDC", Name: "SCEDC", BaseURL: "https://service.scedc.caltech.edu", SupportsBulk: true, SupportsAuth: false, SupportsEvents: true, Priority: 9},
	"GEONET": {ID: "GEONET", Name: "GeoNet", BaseURL: "https://service.geonet.org.nz", SupportsBulk: true, SupportsAuth: false, SupportsEvents: true, Priority: 10},
}

// aliases maps station-metadata provider keys to registry entries
// (station lists sometimes carry ETHZ while the endpoint is ETH).
var aliases = map[string]string{
	"ETHZ":   "ETH",
	"GEOFON": "GFZ",
}

// Registry resolves provider identifiers to endpoints.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry creates a registry with the default provider catalog.
func NewRegistry() *Registry {
	return &Registry{providers: DefaultProviders}
}

// Get looks up a provider by ID, resolving known aliases.
func (r *Registry) Get(id string) (Provider, bool) {
	if p, ok := r.providers[id]; ok {
		return p, true
	}
	if canonical, ok := aliases[id]; ok {
		p, ok := r.providers[canonical]
		return p, ok
	}
	return Provider{}, false
}

// Priority returns the trust priority for a provider ID. Unknown providers
// sort after all known ones.
func (r *Registry) Priority(id string) int {
	if p, ok := r.Get(id); ok {
		return p.Priority
	}
	return len(r.providers) + 1
}

// IDs returns all known provider IDs in priority order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.providers[ids[i]].Priority < r.providers[ids[j]].Priority
	})
	return ids
}
