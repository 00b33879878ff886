// Package diagnostic describes the questionnaire answers collected by the
// client and the compacted snapshot of them that is forwarded to the model.
package diagnostic

import (
	"encoding/json"
	"fmt"
	"os"
)

// IntroData is the free-form introduction section.
type IntroData struct {
	Name           string   `json:"name,omitempty"`
	Activity       string   `json:"activity,omitempty"`
	MonthlyIncome  float64  `json:"monthlyIncome,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
	Expectations   string   `json:"expectations,omitempty"`
	Problems       []string `json:"problems,omitempty"`
	CurrentPoint   string   `json:"currentPoint,omitempty"`
	DesiredPoint   string   `json:"desiredPoint,omitempty"`
	Timeline       string   `json:"timeline,omitempty"`
	DreamPoint     string   `json:"dreamPoint,omitempty"`
	MarketingTools string   `json:"marketingTools,omitempty"`
	AdditionalInfo string   `json:"additionalInfo,omitempty"`
}

// ProductLineData lists the product ladder.
type ProductLineData struct {
	LeadMagnet         string `json:"leadMagnet,omitempty"`
	CheapProduct       string `json:"cheapProduct,omitempty"`
	MainProduct        string `json:"mainProduct,omitempty"`
	MainProductTariffs string `json:"mainProductTariffs,omitempty"`
	PremiumProduct     string `json:"premiumProduct,omitempty"`
}

// CompetencyData holds the self-assessment scores drawn on the radar chart.
type CompetencyData struct {
	Traffic      float64 `json:"traffic"`
	Expertise    float64 `json:"expertise"`
	Sales        float64 `json:"sales"`
	Content      float64 `json:"content"`
	Product      float64 `json:"product"`
	Satisfaction float64 `json:"satisfaction"`
}

// Axis is one labelled radar-chart value.
type Axis struct {
	Name  string
	Score float64
}

// Axes returns the competency scores in chart order.
func (c CompetencyData) Axes() []Axis {
	return []Axis{
		{Name: "traffic", Score: c.Traffic},
		{Name: "expertise", Score: c.Expertise},
		{Name: "sales", Score: c.Sales},
		{Name: "content", Score: c.Content},
		{Name: "product", Score: c.Product},
		{Name: "satisfaction", Score: c.Satisfaction},
	}
}

// Priority grades a selected tool.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ToolsData lists the selected tools per category. Priorities are keyed by
// "<category>-<tool>".
type ToolsData struct {
	Packaging   []string            `json:"packaging,omitempty"`
	PaidTraffic []string            `json:"paidTraffic,omitempty"`
	Content     []string            `json:"content,omitempty"`
	Funnel      []string            `json:"funnel,omitempty"`
	Technical   []string            `json:"technical,omitempty"`
	Sales       []string            `json:"sales,omitempty"`
	Product     []string            `json:"product,omitempty"`
	Priorities  map[string]Priority `json:"priorities,omitempty"`
}

// FinanceData is the unit-economics section.
type FinanceData struct {
	MiniProductPrice  float64 `json:"miniProductPrice,omitempty"`
	InstagramAds      float64 `json:"instagramAds,omitempty"`
	LeadPrice         float64 `json:"leadPrice,omitempty"`
	MiniPurchases     float64 `json:"miniPurchases,omitempty"`
	MiniRevenue       float64 `json:"miniRevenue,omitempty"`
	ZoomPercent       float64 `json:"zoomPercent,omitempty"`
	ZoomCount         float64 `json:"zoomCount,omitempty"`
	ConversionPercent float64 `json:"conversionPercent,omitempty"`
	SalesCount        float64 `json:"salesCount,omitempty"`
	AverageCheck      float64 `json:"averageCheck,omitempty"`
	SalesRevenue      float64 `json:"salesRevenue,omitempty"`
}

// ActionItem is one row of the quarterly action plan.
type ActionItem struct {
	Priority   int    `json:"priority"`
	Task       string `json:"task"`
	Competency string `json:"competency"`
	Complexity int    `json:"complexity"`
	July       bool   `json:"july"`
	August     bool   `json:"august"`
	September  bool   `json:"september"`
}

// Data is the full answer set across the six sections.
type Data struct {
	Intro      IntroData       `json:"intro"`
	Products   ProductLineData `json:"products"`
	Competency CompetencyData  `json:"competency"`
	Tools      ToolsData       `json:"tools"`
	Finance    FinanceData     `json:"finance"`
	Plan       []ActionItem    `json:"plan"`
}

// Load reads a diagnostic answer file and returns it verbatim. A missing
// file yields an empty object so the chat keeps working without answers.
func Load(path string) (json.RawMessage, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return json.RawMessage(`{}`), nil
		}
		return nil, fmt.Errorf("read diagnostic: %w", err)
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("diagnostic %s: invalid json", path)
	}
	return json.RawMessage(b), nil
}

// Decode parses raw answers into the typed shape.
func Decode(raw json.RawMessage) (Data, error) {
	var d Data
	if len(raw) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return Data{}, fmt.Errorf("decode diagnostic: %w", err)
	}
	return d, nil
}
