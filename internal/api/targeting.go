package api

// FrequencyCap suppresses repeat exposure for a window of minutes, scoped to
// either the whole media buy or a single package.
type FrequencyCap struct {
	SuppressMinutes int    `json:"suppress_minutes"`
	Scope           string `json:"scope"` // media_buy|package
}

// Targeting is the normalized set of targeting dimensions shared by all
// adapters. Each adapter validates it against its own supported-dimension set
// and translates the supported subset into its native payload shape.
//
// KeyValuePairs and the AXE segment fields are managed-only: they are never
// buyer-supplied through the overlay path and are injected by the
// orchestration layer for signal activation.
type Targeting struct {
	GeoCountryAnyOf  []string `json:"geo_country_any_of,omitempty"`
	GeoCountryNoneOf []string `json:"geo_country_none_of,omitempty"`
	GeoRegionAnyOf   []string `json:"geo_region_any_of,omitempty"`
	GeoRegionNoneOf  []string `json:"geo_region_none_of,omitempty"`
	GeoMetroAnyOf    []string `json:"geo_metro_any_of,omitempty"`
	GeoMetroNoneOf   []string `json:"geo_metro_none_of,omitempty"`
	GeoCityAnyOf     []string `json:"geo_city_any_of,omitempty"`
	GeoCityNoneOf    []string `json:"geo_city_none_of,omitempty"`

	DeviceTypeAnyOf  []string `json:"device_type_any_of,omitempty"`
	DeviceTypeNoneOf []string `json:"device_type_none_of,omitempty"`
	OSAnyOf          []string `json:"os_any_of,omitempty"`
	OSNoneOf         []string `json:"os_none_of,omitempty"`
	BrowserAnyOf     []string `json:"browser_any_of,omitempty"`
	BrowserNoneOf    []string `json:"browser_none_of,omitempty"`

	ContentCatAnyOf  []string `json:"content_cat_any_of,omitempty"`
	ContentCatNoneOf []string `json:"content_cat_none_of,omitempty"`
	KeywordsAnyOf    []string `json:"keywords_any_of,omitempty"`
	KeywordsNoneOf   []string `json:"keywords_none_of,omitempty"`
	AudiencesAnyOf   []string `json:"audiences_any_of,omitempty"`
	AudiencesNoneOf  []string `json:"audiences_none_of,omitempty"`
	MediaTypeAnyOf   []string `json:"media_type_any_of,omitempty"`
	MediaTypeNoneOf  []string `json:"media_type_none_of,omitempty"`

	Signals []string `json:"signals,omitempty"`

	FrequencyCap *FrequencyCap `json:"frequency_cap,omitempty"`

	// Managed-only fields, injected by the orchestrator for AEE signal
	// activation. Not buyer-settable via the overlay.
	AxeIncludeSegment string            `json:"axe_include_segment,omitempty"`
	AxeExcludeSegment string            `json:"axe_exclude_segment,omitempty"`
	KeyValuePairs     map[string]string `json:"key_value_pairs,omitempty"`

	// Custom maps an adapter name to that adapter's extension payload
	// (e.g. Custom["kevel"]["site_ids"]).
	Custom map[string]map[string]any `json:"custom,omitempty"`
}

// IsEmpty reports whether no targeting dimension is set at all.
func (t *Targeting) IsEmpty() bool {
	if t == nil {
		return true
	}
	return len(t.GeoCountryAnyOf) == 0 && len(t.GeoCountryNoneOf) == 0 &&
		len(t.GeoRegionAnyOf) == 0 && len(t.GeoRegionNoneOf) == 0 &&
		len(t.GeoMetroAnyOf) == 0 && len(t.GeoMetroNoneOf) == 0 &&
		len(t.GeoCityAnyOf) == 0 && len(t.GeoCityNoneOf) == 0 &&
		len(t.DeviceTypeAnyOf) == 0 && len(t.DeviceTypeNoneOf) == 0 &&
		len(t.OSAnyOf) == 0 && len(t.OSNoneOf) == 0 &&
		len(t.BrowserAnyOf) == 0 && len(t.BrowserNoneOf) == 0 &&
		len(t.ContentCatAnyOf) == 0 && len(t.ContentCatNoneOf) == 0 &&
		len(t.KeywordsAnyOf) == 0 && len(t.KeywordsNoneOf) == 0 &&
		len(t.AudiencesAnyOf) == 0 && len(t.AudiencesNoneOf) == 0 &&
		len(t.MediaTypeAnyOf) == 0 && len(t.MediaTypeNoneOf) == 0 &&
		len(t.Signals) == 0 && t.FrequencyCap == nil &&
		t.AxeIncludeSegment == "" && t.AxeExcludeSegment == "" &&
		len(t.KeyValuePairs) == 0 && len(t.Custom) == 0
}

// CustomFor returns the adapter-specific extension payload for the given
// adapter name, or nil.
func (t *Targeting) CustomFor(adapter string) map[string]any {
	if t == nil || t.Custom == nil {
		return nil
	}
	return t.Custom[adapter]
}
