package ingestion

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/greenlog/reconciler/internal/domain"
	"github.com/greenlog/reconciler/internal/normalize"
)

// Band narrows a rule by the magnitude of an amount in the row, exclusive on
// both ends.
type Band struct {
	Min  float64
	Max  float64
	Type domain.SurchargeType
}

func (b Band) contains(v float64) bool {
	return v > b.Min && v < b.Max
}

// Rule matches folded text when every AllOf keyword is present and, if AnyOf
// is set, at least one AnyOf keyword is too. When Bands is set the type is
// taken from the first row amount falling in a band; otherwise Otherwise is
// consulted before falling back to Type.
type Rule struct {
	Type      domain.SurchargeType
	AllOf     []string
	AnyOf     []string
	Bands     []Band
	Otherwise []Rule
}

func (r Rule) matches(text string) bool {
	for _, k := range r.AllOf {
		if !strings.Contains(text, k) {
			return false
		}
	}
	if len(r.AnyOf) == 0 {
		return len(r.AllOf) > 0
	}
	for _, k := range r.AnyOf {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// DefaultRules are tried in order; the first match wins. Return processing
// precedes sender return because its label also mentions the sender.
var DefaultRules = []Rule{
	{Type: domain.SurchargeMislabeled, AllOf: []string{"ETIQUETTE", "NON CONFORME"}},
	{Type: domain.SurchargeReturnProcessing, AllOf: []string{"TRAITEMENT", "RETOUR"}},
	{Type: domain.SurchargeSenderReturn, AllOf: []string{"RETOUR", "EXPEDITEUR"}},
	{Type: domain.SurchargeSenderReturn, AllOf: []string{"RETURN", "SENDER"}},
	{Type: domain.SurchargeAddressCorrection, AllOf: []string{"ADRESSE"}, AnyOf: []string{"CORRECTION", "RECTIF", "INCOMPLETE"}},
	{Type: domain.SurchargeAddressCorrection, AllOf: []string{"ADDRESS"}, AnyOf: []string{"CORRECTION", "CHANGE"}},
	{Type: domain.SurchargeRemoteArea, AllOf: []string{"ZONE"}, AnyOf: []string{"DIFFICILE", "ELOIGNE"}},
	{Type: domain.SurchargeRemoteArea, AnyOf: []string{"CORSE", "REMOTE AREA"}},
	{Type: domain.SurchargeRemoteArea, AllOf: []string{"ILE", "MONTAGNE"}},
	{
		Type:  domain.SurchargeOversize,
		AnyOf: []string{"HORS NORME", "HORS-NORME"},
		Bands: []Band{
			{Min: 60, Max: 80, Type: domain.SurchargeOversize},
			{Min: 15, Max: 25, Type: domain.SurchargeHandling},
		},
		Otherwise: []Rule{{Type: domain.SurchargeHandling, AnyOf: []string{"MANUTENTION"}}},
	},
	{Type: domain.SurchargeOversize, AnyOf: []string{"OVERSIZE", "OVERWEIGHT", "NON-CONVEYABLE", "NON CONVEYABLE"}},
	{Type: domain.SurchargeHandling, AnyOf: []string{"MANUTENTION", "HANDLING"}},
}

// Amount bounds for a plausible surcharge, exclusive.
const (
	minSurcharge = 0
	maxSurcharge = 100
)

// Classifier assigns surcharge types to free text.
type Classifier struct {
	Rules  []Rule
	Ignore []string
}

// NewClassifier uses DefaultRules and the given ignore keywords.
func NewClassifier(ignore []string) *Classifier {
	folded := make([]string, len(ignore))
	for i, k := range ignore {
		folded[i] = normalize.Fold(k)
	}
	return &Classifier{Rules: DefaultRules, Ignore: folded}
}

// Classify returns the surcharge type of text. amounts are the numeric
// values of the row in column order, used by magnitude bands.
func (c *Classifier) Classify(text string, amounts []float64) (domain.SurchargeType, bool) {
	return classify(c.Rules, normalize.Fold(text), amounts)
}

func classify(rules []Rule, folded string, amounts []float64) (domain.SurchargeType, bool) {
	for _, r := range rules {
		if !r.matches(folded) {
			continue
		}
		if len(r.Bands) > 0 {
			for _, a := range amounts {
				for _, b := range r.Bands {
					if b.contains(a) {
						return b.Type, true
					}
				}
			}
		}
		if t, ok := classify(r.Otherwise, folded, amounts); ok {
			return t, true
		}
		return r.Type, true
	}
	return "", false
}

// ClassifyCharge classifies a named charge such as a DHL extra charge.
// Unknown labels fall into the "other" bucket unless ignored.
func (c *Classifier) ClassifyCharge(label string) (domain.SurchargeType, bool) {
	folded := normalize.Fold(label)
	if strings.TrimSpace(folded) == "" {
		return "", false
	}
	for _, k := range c.Ignore {
		if strings.Contains(folded, k) {
			return "", false
		}
	}
	if t, ok := classify(c.Rules, folded, nil); ok {
		return t, true
	}
	return domain.SurchargeOther, true
}

// firstAmount picks the first value inside the plausible surcharge bounds.
func firstAmount(values []decimal.Decimal) (decimal.Decimal, bool) {
	lo, hi := decimal.NewFromInt(minSurcharge), decimal.NewFromInt(maxSurcharge)
	for _, v := range values {
		if v.GreaterThan(lo) && v.LessThan(hi) {
			return v, true
		}
	}
	return decimal.Decimal{}, false
}
