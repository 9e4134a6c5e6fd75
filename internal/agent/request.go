package agent

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/raevmood/devicefinder/internal/apperr"
	"github.com/tidwall/gjson"
)

// Request is a validated recommendation request.
type Request struct {
	UserBasePrompt string
	Location       string
	// Budget is nil when the user gave none.
	Budget       *float64
	Brand        string
	OSPreference string
	Colour       string
	// Filters holds the category filters that were set, keyed by name.
	Filters map[string]any
}

// ParseRequest validates a JSON body against category. Unknown fields are
// ignored; declared fields holding the wrong JSON type are rejected.
func ParseRequest(category Category, body []byte) (Request, error) {
	if !gjson.ValidBytes(body) {
		return Request{}, apperr.InvalidRequest("request body must be valid JSON")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return Request{}, apperr.InvalidRequest("request body must be a JSON object")
	}

	var req Request
	var err error
	if req.UserBasePrompt, err = stringField(doc, "user_base_prompt"); err != nil {
		return Request{}, err
	}
	if req.Location, err = stringField(doc, "location"); err != nil {
		return Request{}, err
	}
	if req.UserBasePrompt == "" {
		return Request{}, apperr.InvalidRequest("user_base_prompt is required")
	}
	if req.Location == "" {
		return Request{}, apperr.InvalidRequest("location is required")
	}
	if budget := doc.Get("budget"); budget.Exists() && budget.Type != gjson.Null {
		if budget.Type != gjson.Number {
			return Request{}, apperr.InvalidRequest("budget must be a number")
		}
		value := budget.Float()
		if value < 0 {
			return Request{}, apperr.InvalidRequest("budget must not be negative")
		}
		req.Budget = &value
	}
	if req.Brand, err = stringField(doc, "brand"); err != nil {
		return Request{}, err
	}
	if req.OSPreference, err = stringField(doc, "os_preference"); err != nil {
		return Request{}, err
	}
	if req.Colour, err = stringField(doc, "colour"); err != nil {
		return Request{}, err
	}

	req.Filters = make(map[string]any)
	for _, filter := range category.Filters {
		value := doc.Get(gjson.Escape(filter.Name))
		if !value.Exists() || value.Type == gjson.Null {
			continue
		}
		switch filter.Type {
		case FilterString:
			if value.Type != gjson.String {
				return Request{}, apperr.InvalidRequest(filter.Name + " must be a string")
			}
			if trimmed := strings.TrimSpace(value.String()); trimmed != "" {
				req.Filters[filter.Name] = trimmed
			}
		case FilterBool:
			if value.Type != gjson.True && value.Type != gjson.False {
				return Request{}, apperr.InvalidRequest(filter.Name + " must be a boolean")
			}
			req.Filters[filter.Name] = value.Bool()
		case FilterStringList:
			if !value.IsArray() {
				return Request{}, apperr.InvalidRequest(filter.Name + " must be a list of strings")
			}
			list := make([]string, 0, len(value.Array()))
			for _, item := range value.Array() {
				if item.Type != gjson.String {
					return Request{}, apperr.InvalidRequest(filter.Name + " must be a list of strings")
				}
				if trimmed := strings.TrimSpace(item.String()); trimmed != "" {
					list = append(list, trimmed)
				}
			}
			if len(list) > 0 {
				req.Filters[filter.Name] = list
			}
		}
	}
	return req, nil
}

func stringField(doc gjson.Result, name string) (string, error) {
	value := doc.Get(name)
	if !value.Exists() || value.Type == gjson.Null {
		return "", nil
	}
	if value.Type != gjson.String {
		return "", apperr.InvalidRequest(name + " must be a string")
	}
	return strings.TrimSpace(value.String()), nil
}

// filterTerms renders set filter values in a stable order for queries.
func (r Request) filterTerms() []string {
	names := make([]string, 0, len(r.Filters))
	for name := range r.Filters {
		names = append(names, name)
	}
	sort.Strings(names)

	terms := make([]string, 0, len(names)+2)
	if r.Brand != "" {
		terms = append(terms, r.Brand)
	}
	for _, name := range names {
		switch v := r.Filters[name].(type) {
		case string:
			terms = append(terms, v)
		case []string:
			terms = append(terms, strings.Join(v, " "))
		case bool:
			if v {
				terms = append(terms, strings.ReplaceAll(name, "_", " "))
			}
		}
	}
	if r.OSPreference != "" {
		terms = append(terms, r.OSPreference)
	}
	return terms
}

func (r Request) budgetPhrase() string {
	if r.Budget == nil || *r.Budget <= 0 {
		return ""
	}
	return "under " + strconv.FormatFloat(*r.Budget, 'f', -1, 64)
}

// promptJSON is the request as shown to the model.
func (r Request) promptJSON() string {
	doc := map[string]any{
		"user_base_prompt": r.UserBasePrompt,
		"location":         r.Location,
	}
	if r.Budget != nil {
		doc["budget"] = *r.Budget
	}
	if r.Brand != "" {
		doc["brand"] = r.Brand
	}
	if r.OSPreference != "" {
		doc["os_preference"] = r.OSPreference
	}
	if r.Colour != "" {
		doc["colour"] = r.Colour
	}
	for name, value := range r.Filters {
		doc[name] = value
	}
	data, _ := json.MarshalIndent(doc, "", "  ")
	return string(data)
}
