package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RoutingRulesFile is the on-disk shape of routing.yml.
type RoutingRulesFile struct {
	CommissionThreshold  float64                `mapstructure:"commissionThreshold"`
	DuffelMarkupPct      float64                `mapstructure:"duffelMarkupPct"`
	ConsolidatorOverhead float64                `mapstructure:"consolidatorOverhead"`
	DefaultCommissionPct float64                `mapstructure:"defaultCommissionPct"`
	DefaultCurrency      string                 `mapstructure:"defaultCurrency"`
	LCCAirlines          []string               `mapstructure:"lccAirlines"`
	CommissionRules      []CommissionRuleConfig `mapstructure:"commissionRules"`
}

// CommissionRuleConfig is one row of the commission table. Empty lists match
// any value.
type CommissionRuleConfig struct {
	Airline          string   `mapstructure:"airline"`
	Cabins           []string `mapstructure:"cabins"`
	FareClasses      []string `mapstructure:"fareClasses"`
	Origins          []string `mapstructure:"origins"`
	Destinations     []string `mapstructure:"destinations"`
	PassengerTypes   []string `mapstructure:"passengerTypes"`
	CommissionPct    float64  `mapstructure:"commissionPct"`
	TourCode         string   `mapstructure:"tourCode"`
	TicketDesignator string   `mapstructure:"ticketDesignator"`
}

// RoutingRules is the validated, normalized rule set used by the calculator.
type RoutingRules struct {
	Threshold            decimal.Decimal
	DuffelMarkupPct      decimal.Decimal
	ConsolidatorOverhead decimal.Decimal
	DefaultCommissionPct decimal.Decimal
	DefaultCurrency      string
	LCCAirlines          map[string]struct{}
	Rules                []CommissionRule
}

// CommissionRule is a normalized commission table row.
type CommissionRule struct {
	Airline          string
	Cabins           []string
	FareClasses      []string
	Origins          []string
	Destinations     []string
	PassengerTypes   []string
	CommissionPct    decimal.Decimal
	TourCode         string
	TicketDesignator string
}

// Specificity counts the constraints a rule carries.
func (r CommissionRule) Specificity() int {
	n := 0
	for _, list := range [][]string{r.Cabins, r.FareClasses, r.Origins, r.Destinations, r.PassengerTypes} {
		if len(list) > 0 {
			n++
		}
	}
	return n
}

// IsLCC reports whether the airline is excluded from the consolidator channel.
func (r RoutingRules) IsLCC(airline string) bool {
	_, ok := r.LCCAirlines[strings.ToUpper(strings.TrimSpace(airline))]
	return ok
}

// RoutingRulesSource yields the rule set in effect for one calculation.
type RoutingRulesSource interface {
	Rules() RoutingRules
}

type staticRules struct {
	rules RoutingRules
}

func (s staticRules) Rules() RoutingRules { return s.rules }

// StaticRoutingRules returns a source that always yields rules.
func StaticRoutingRules(rules RoutingRules) RoutingRulesSource {
	return staticRules{rules: rules}
}

func DefaultRoutingRulesFile() RoutingRulesFile {
	return RoutingRulesFile{
		CommissionThreshold:  5.00,
		DuffelMarkupPct:      1.0,
		ConsolidatorOverhead: 0,
		DefaultCommissionPct: 0,
		DefaultCurrency:      "USD",
		LCCAirlines: []string{
			"NK", "F9", "G4", "SY", "WN", "XP", "MX",
			"FR", "U2", "W6", "VY", "DY",
			"AK", "6E", "TR", "JQ", "5J",
		},
		CommissionRules: []CommissionRuleConfig{
			{Airline: "AA", CommissionPct: 2},
			{Airline: "AA", Cabins: []string{"business", "first"}, CommissionPct: 4, TourCode: "AAPREM"},
			{Airline: "UA", CommissionPct: 2},
			{Airline: "DL", CommissionPct: 1.5},
			{Airline: "AC", CommissionPct: 2},
			{Airline: "BA", CommissionPct: 3, TicketDesignator: "CN03"},
			{Airline: "LH", CommissionPct: 3},
			{Airline: "AF", CommissionPct: 3},
			{Airline: "KL", CommissionPct: 3},
			{Airline: "TK", CommissionPct: 3},
			{Airline: "EK", CommissionPct: 4},
			{Airline: "QR", CommissionPct: 4},
			{Airline: "CX", CommissionPct: 3},
			{Airline: "SQ", CommissionPct: 3},
		},
	}
}

// DefaultRoutingRules returns the compiled default rule set.
func DefaultRoutingRules() RoutingRules {
	rules, err := CompileRoutingRules(DefaultRoutingRulesFile())
	if err != nil {
		panic(err)
	}
	return rules
}

type RoutingRulesHolder struct {
	current atomic.Value // holds RoutingRules
}

func NewRoutingRulesHolder(cfg Config, log *zap.Logger) (*RoutingRulesHolder, error) {
	log = log.Named("routing.rules")
	v := viper.New()

	if path := strings.TrimSpace(cfg.Routing.RulesPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("routing")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/farerouter")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FAREROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &RoutingRulesHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Info("routing rules file not found, using defaults")
		holder.current.Store(DefaultRoutingRules())
		return holder, nil
	}

	rules, err := loadRoutingRules(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(rules)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := loadRoutingRules(v)
		if err != nil {
			log.Warn("invalid routing rules ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("routing rules reloaded", zap.String("file", e.Name), zap.Int("rules", len(updated.Rules)))
	})

	return holder, nil
}

func (h *RoutingRulesHolder) Rules() RoutingRules {
	return h.current.Load().(RoutingRules)
}

// loadRoutingRules reads the "routing" key. Scalars fall back to defaults;
// the LCC list and commission table come from the file only.
func loadRoutingRules(v *viper.Viper) (RoutingRules, error) {
	defaults := DefaultRoutingRulesFile()
	v.SetDefault("routing.commissionThreshold", defaults.CommissionThreshold)
	v.SetDefault("routing.duffelMarkupPct", defaults.DuffelMarkupPct)
	v.SetDefault("routing.defaultCurrency", defaults.DefaultCurrency)

	var file RoutingRulesFile
	if err := v.UnmarshalKey("routing", &file); err != nil {
		return RoutingRules{}, err
	}
	file.CommissionThreshold = v.GetFloat64("routing.commissionThreshold")
	file.DuffelMarkupPct = v.GetFloat64("routing.duffelMarkupPct")
	file.DefaultCurrency = v.GetString("routing.defaultCurrency")
	return CompileRoutingRules(file)
}

// CompileRoutingRules validates and normalizes a rules file.
func CompileRoutingRules(file RoutingRulesFile) (RoutingRules, error) {
	if err := validateRoutingRules(file); err != nil {
		return RoutingRules{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(file.DefaultCurrency))
	if currency == "" {
		currency = "USD"
	}

	lcc := make(map[string]struct{}, len(file.LCCAirlines))
	for _, code := range file.LCCAirlines {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		lcc[code] = struct{}{}
	}

	rules := make([]CommissionRule, 0, len(file.CommissionRules))
	for _, row := range file.CommissionRules {
		rules = append(rules, CommissionRule{
			Airline:          strings.ToUpper(strings.TrimSpace(row.Airline)),
			Cabins:           normalizeList(row.Cabins, strings.ToLower),
			FareClasses:      normalizeList(row.FareClasses, strings.ToUpper),
			Origins:          normalizeList(row.Origins, strings.ToUpper),
			Destinations:     normalizeList(row.Destinations, strings.ToUpper),
			PassengerTypes:   normalizeList(row.PassengerTypes, strings.ToUpper),
			CommissionPct:    decimal.NewFromFloat(row.CommissionPct),
			TourCode:         strings.TrimSpace(row.TourCode),
			TicketDesignator: strings.TrimSpace(row.TicketDesignator),
		})
	}

	return RoutingRules{
		Threshold:            decimal.NewFromFloat(file.CommissionThreshold),
		DuffelMarkupPct:      decimal.NewFromFloat(file.DuffelMarkupPct),
		ConsolidatorOverhead: decimal.NewFromFloat(file.ConsolidatorOverhead),
		DefaultCommissionPct: decimal.NewFromFloat(file.DefaultCommissionPct),
		DefaultCurrency:      currency,
		LCCAirlines:          lcc,
		Rules:                rules,
	}, nil
}

func validateRoutingRules(file RoutingRulesFile) error {
	if file.CommissionThreshold < 0 {
		return errors.New("routing.commissionThreshold cannot be negative")
	}
	if file.DuffelMarkupPct < 0 {
		return errors.New("routing.duffelMarkupPct cannot be negative")
	}
	if file.ConsolidatorOverhead < 0 {
		return errors.New("routing.consolidatorOverhead cannot be negative")
	}
	if file.DefaultCommissionPct < 0 || file.DefaultCommissionPct > 100 {
		return errors.New("routing.defaultCommissionPct must be between 0 and 100")
	}
	for i, row := range file.CommissionRules {
		if strings.TrimSpace(row.Airline) == "" {
			return fmt.Errorf("routing.commissionRules[%d].airline is required", i)
		}
		if row.CommissionPct < 0 || row.CommissionPct > 100 {
			return fmt.Errorf("routing.commissionRules[%d].commissionPct must be between 0 and 100", i)
		}
	}
	return nil
}

func normalizeList(values []string, norm func(string) string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = norm(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
