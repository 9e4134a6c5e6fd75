package agent

import (
	"strings"
	"time"

	"github.com/raevmood/devicefinder/internal/catalog"
	"github.com/tidwall/gjson"
)

// Confidence levels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Component is one part of a custom build.
type Component struct {
	Category string  `json:"category"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Vendor   string  `json:"vendor,omitempty"`
	URL      string  `json:"url,omitempty"`
}

// Recommendation is one ranked option.
type Recommendation struct {
	Rank          int            `json:"rank"`
	Name          string         `json:"name"`
	Brand         string         `json:"brand,omitempty"`
	Price         float64        `json:"price"`
	Vendor        string         `json:"vendor,omitempty"`
	URL           string         `json:"url,omitempty"`
	PhysicalStore string         `json:"physical_store,omitempty"`
	Rationale     string         `json:"rationale"`
	Confidence    string         `json:"confidence"`
	KeySpecs      map[string]any `json:"key_specs,omitempty"`
	BuildName     string         `json:"build_name,omitempty"`
	TotalPrice    float64        `json:"total_price,omitempty"`
	Components    []Component    `json:"components,omitempty"`
}

// Sources counts the context gathered for a response.
type Sources struct {
	Catalog int `json:"catalog"`
	Web     int `json:"web"`
}

// Response is the structured answer of an agent.
type Response struct {
	Category        string           `json:"category"`
	Recommendations []Recommendation `json:"recommendations"`
	Reasoning       string           `json:"reasoning"`
	Confidence      string           `json:"confidence"`
	// Degraded is set when live search failed and only the catalog was used.
	Degraded    bool      `json:"degraded"`
	Sources     Sources   `json:"sources"`
	Backend     string    `json:"backend"`
	GeneratedAt time.Time `json:"generated_at"`
}

// decode reads a schema-checked document into a Response, dropping entries
// without an identifier and re-ranking the rest from 1.
func decode(category Category, doc []byte) *Response {
	root := gjson.ParseBytes(doc)
	resp := &Response{
		Category:        category.Key,
		Recommendations: []Recommendation{},
		Reasoning:       strings.TrimSpace(root.Get("reasoning").String()),
	}
	for _, item := range root.Get("recommendations").Array() {
		if !item.IsObject() {
			continue
		}
		rec := Recommendation{
			Name:          firstString(item, "name", "title"),
			Brand:         firstString(item, "brand"),
			Price:         amount(item.Get("price")),
			Vendor:        firstString(item, "vendor", "vendor_online.store"),
			URL:           firstString(item, "url", "vendor_online.url"),
			PhysicalStore: firstString(item, "physical_store"),
			Rationale:     firstString(item, "reasoning", "rationale"),
			Confidence:    normalizeConfidence(item.Get("confidence").String()),
		}
		if specs, ok := item.Get("key_specs").Value().(map[string]any); ok && len(specs) > 0 {
			rec.KeySpecs = specs
		}
		if category.Composite {
			rec.BuildName = firstString(item, "build_name")
			if rec.BuildName == "" {
				rec.BuildName = rec.Name
			}
			rec.Name = rec.BuildName
			rec.Components = decodeComponents(item.Get("components"))
			rec.TotalPrice = amount(item.Get("total_price"))
			if rec.TotalPrice == 0 {
				for _, component := range rec.Components {
					rec.TotalPrice += component.Price
				}
			}
			rec.Price = rec.TotalPrice
		}
		if rec.Name == "" {
			continue
		}
		if rec.Confidence == "" {
			rec.Confidence = ConfidenceMedium
		}
		rec.Rank = len(resp.Recommendations) + 1
		resp.Recommendations = append(resp.Recommendations, rec)
	}

	resp.Confidence = normalizeConfidence(root.Get("confidence").String())
	if resp.Confidence == "" {
		switch {
		case len(resp.Recommendations) == 0:
			resp.Confidence = ConfidenceLow
		default:
			resp.Confidence = resp.Recommendations[0].Confidence
		}
	}
	return resp
}

func decodeComponents(value gjson.Result) []Component {
	if !value.IsArray() {
		return nil
	}
	out := make([]Component, 0, len(value.Array()))
	for _, item := range value.Array() {
		if !item.IsObject() {
			continue
		}
		component := Component{
			Category: firstString(item, "category"),
			Name:     firstString(item, "name"),
			Price:    amount(item.Get("price")),
			Vendor:   firstString(item, "vendor", "vendor_online.store"),
			URL:      firstString(item, "url", "vendor_online.url"),
		}
		if component.Name == "" {
			continue
		}
		out = append(out, component)
	}
	return out
}

func firstString(item gjson.Result, paths ...string) string {
	for _, path := range paths {
		value := item.Get(path)
		if value.Type == gjson.String || value.Type == gjson.Number {
			if s := strings.TrimSpace(value.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

func amount(value gjson.Result) float64 {
	switch value.Type {
	case gjson.Number:
		if value.Float() < 0 {
			return 0
		}
		return value.Float()
	case gjson.String:
		return catalog.ParseAmount(value.String())
	default:
		return 0
	}
}

func normalizeConfidence(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceMedium:
		return ConfidenceMedium
	case ConfidenceLow:
		return ConfidenceLow
	default:
		return ""
	}
}
