package agent

import "github.com/raevmood/devicefinder/internal/llm"

// FilterType is the JSON type a category filter accepts.
type FilterType int

const (
	FilterString FilterType = iota
	FilterBool
	FilterStringList
)

// Filter is one optional, category-specific request field.
type Filter struct {
	Name string
	Type FilterType
}

// Category configures one recommendation agent.
type Category struct {
	Key   string
	Route string
	// Label is the product phrase used in retrieval and search queries.
	Label   string
	Filters []Filter
	// Composite categories answer with component builds instead of devices.
	Composite bool
	Prompt    string
}

func str(names ...string) []Filter {
	out := make([]Filter, 0, len(names))
	for _, name := range names {
		out = append(out, Filter{Name: name, Type: FilterString})
	}
	return out
}

func with(filters []Filter, extra ...Filter) []Filter {
	return append(filters, extra...)
}

var (
	brandsFilter = Filter{Name: "preferred_brands", Type: FilterStringList}

	// Categories lists every agent in route order.
	Categories = []Category{
		{
			Key:     "phone",
			Route:   "/find_phone",
			Label:   "smartphone",
			Filters: with(str("ram", "storage", "processor", "battery", "display", "camera_priority"), brandsFilter),
			Prompt:  phonePrompt,
		},
		{
			Key:     "laptop",
			Route:   "/find_laptop",
			Label:   "laptop",
			Filters: with(str("ram", "storage", "processor", "gpu", "display", "battery", "weight", "build", "usage"), brandsFilter),
			Prompt:  laptopPrompt,
		},
		{
			Key:   "tablet",
			Route: "/find_tablet",
			Label: "tablet",
			Filters: with(str("ram", "storage", "processor", "display", "battery"),
				Filter{Name: "stylus_support", Type: FilterBool},
				Filter{Name: "connectivity", Type: FilterString},
				Filter{Name: "usage", Type: FilterString},
				brandsFilter,
				Filter{Name: "camera_priority", Type: FilterString},
			),
			Prompt: tabletPrompt,
		},
		{
			Key:     "earpiece",
			Route:   "/find_earpiece",
			Label:   "headphones earbuds",
			Filters: with(str("earpiece_type", "connectivity", "battery_life", "noise_cancellation", "mic_quality", "sound_profile"), brandsFilter),
			Prompt:  earpiecePrompt,
		},
		{
			Key:   "prebuilt_pc",
			Route: "/find_prebuilt_pc",
			Label: "prebuilt desktop PC",
			Filters: with(str("usage", "cpu_preference", "gpu_requirement", "ram_capacity", "storage_size"),
				brandsFilter,
				Filter{Name: "monitor_included", Type: FilterBool},
			),
			Prompt: prebuiltPCPrompt,
		},
		{
			Key:   "custom_pc",
			Route: "/build_custom_pc",
			Label: "PC components",
			Filters: with(append([]Filter{{Name: "use_case", Type: FilterString}, brandsFilter},
				str("cpu_preference", "gpu_preference", "ram_capacity", "ram_type", "storage_preference",
					"ssd_size_preference", "power_supply_preference", "form_factor", "cooling_type",
					"monitor_refresh_rate", "monitor_quality", "aesthetic_preference")...),
				Filter{Name: "peripherals_included", Type: FilterBool},
			),
			Composite: true,
			Prompt:    customPCPrompt,
		},
	}
)

// Lookup returns the category with key.
func Lookup(key string) (Category, bool) {
	for _, category := range Categories {
		if category.Key == key {
			return category, true
		}
	}
	return Category{}, false
}

// Schema returns the response shape the model must produce.
func (c Category) Schema() *llm.Schema {
	var item llm.Field
	if c.Composite {
		item = llm.Field{Kind: llm.KindObject, Fields: []llm.Field{
			{Name: "rank", Kind: llm.KindAny},
			{Name: "build_name", Kind: llm.KindString, Description: "short name of the build"},
			{Name: "total_price", Kind: llm.KindAny, Description: "number in local currency"},
			{Name: "components", Kind: llm.KindArray, Items: &llm.Field{Kind: llm.KindObject, Fields: []llm.Field{
				{Name: "category", Kind: llm.KindString, Description: "CPU, GPU, motherboard, RAM, storage, PSU, case, cooling, monitor or peripheral"},
				{Name: "name", Kind: llm.KindString},
				{Name: "price", Kind: llm.KindAny, Description: "number in local currency"},
				{Name: "vendor", Kind: llm.KindString},
				{Name: "url", Kind: llm.KindString},
			}}},
			{Name: "reasoning", Kind: llm.KindString},
			{Name: "confidence", Kind: llm.KindString, Description: "high, medium or low"},
		}}
	} else {
		item = llm.Field{Kind: llm.KindObject, Fields: []llm.Field{
			{Name: "rank", Kind: llm.KindAny},
			{Name: "name", Kind: llm.KindString, Description: "product model name"},
			{Name: "brand", Kind: llm.KindString},
			{Name: "price", Kind: llm.KindAny, Description: "number in local currency"},
			{Name: "vendor", Kind: llm.KindString},
			{Name: "url", Kind: llm.KindString},
			{Name: "key_specs", Kind: llm.KindObject, Description: "specification name to value"},
			{Name: "physical_store", Kind: llm.KindString},
			{Name: "reasoning", Kind: llm.KindString},
			{Name: "confidence", Kind: llm.KindString, Description: "high, medium or low"},
		}}
	}
	return &llm.Schema{
		Name: c.Key,
		Root: llm.Field{Kind: llm.KindObject, Fields: []llm.Field{
			{Name: "recommendations", Kind: llm.KindArray, Required: true, Items: &item},
			{Name: "reasoning", Kind: llm.KindString, Description: "overall reasoning"},
			{Name: "confidence", Kind: llm.KindString, Description: "high, medium or low"},
		}},
	}
}
