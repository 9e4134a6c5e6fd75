package ingest

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/raevmood/devicefinder/internal/catalog"
	"github.com/raevmood/devicefinder/internal/config"
	"github.com/raevmood/devicefinder/internal/models"
	"github.com/raevmood/devicefinder/internal/search"
	"gorm.io/datatypes"
)

var (
	titleSeparators = []string{" | ", " - ", " \u2013 ", " \u2014 "}

	specPatterns = []struct {
		key string
		re  *regexp.Regexp
	}{
		{"ram", regexp.MustCompile(`(?i)\b(\d{1,2})\s?GB\s*(?:of\s+)?RAM\b`)},
		{"storage", regexp.MustCompile(`(?i)\b(\d{2,4}\s?GB|\d\s?TB)\s*(?:ROM|storage|SSD|HDD|internal)\b`)},
		{"battery", regexp.MustCompile(`(?i)\b(\d{4,5}\s?mAh)\b`)},
		{"display", regexp.MustCompile(`(?i)\b(\d{1,2}(?:\.\d{1,2})?)\s?(?:-?inch|"|”)`)},
	}
)

// parseResult turns one organic search hit into a catalog device. It returns
// false for hits without a usable name or link.
func parseResult(preset config.Preset, result search.Result) (models.Device, bool) {
	title := strings.TrimSpace(result.Title)
	link := strings.TrimSpace(result.Link)
	if title == "" || link == "" {
		return models.Device{}, false
	}
	name, vendor := splitTitle(title)
	if vendor == "" {
		vendor = hostOf(link)
	}
	if name == "" {
		return models.Device{}, false
	}

	device := models.Device{
		Category: preset.Category,
		Location: preset.Location,
		Name:     name,
		Brand:    strings.Fields(name)[0],
		Vendor:   vendor,
		URL:      link,
		Snippet:  strings.TrimSpace(result.Snippet),
	}
	if price, ok := catalog.ParsePrice(title + " " + result.Snippet); ok {
		device.Price = price
	}
	if specs := extractSpecs(title + " " + result.Snippet); len(specs) > 0 {
		if data, err := json.Marshal(specs); err == nil {
			device.Specs = datatypes.JSON(data)
		}
	}
	device.ID = catalog.DeviceID(device.Category, device.Location, device.Name, device.URL)
	return device, true
}

func splitTitle(title string) (string, string) {
	for _, sep := range titleSeparators {
		if idx := strings.LastIndex(title, sep); idx > 0 {
			return strings.TrimSpace(title[:idx]), strings.TrimSpace(title[idx+len(sep):])
		}
	}
	return title, ""
}

func hostOf(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(parsed.Hostname(), "www.")
}

func extractSpecs(text string) map[string]string {
	specs := make(map[string]string)
	for _, pattern := range specPatterns {
		if m := pattern.re.FindStringSubmatch(text); m != nil {
			value := strings.ReplaceAll(m[1], " ", "")
			switch pattern.key {
			case "ram":
				value += "GB"
			case "display":
				value += "\""
			}
			specs[pattern.key] = value
		}
	}
	return specs
}
