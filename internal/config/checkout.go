package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// CheckoutPolicy is the merchant-editable part of checkout behaviour. It is
// reloaded from checkout.yml without a restart.
type CheckoutPolicy struct {
	Currencies         []string            `mapstructure:"currencies"`
	DefaultCurrency    string              `mapstructure:"defaultCurrency"`
	Tax                TaxPolicy           `mapstructure:"tax"`
	FulfillmentOptions []FulfillmentOption `mapstructure:"fulfillmentOptions"`
	OrderURLTemplate   string              `mapstructure:"orderUrlTemplate"`
}

type TaxPolicy struct {
	Mode string  `mapstructure:"mode"`
	Rate float64 `mapstructure:"rate"`
}

type FulfillmentOption struct {
	ID                string  `mapstructure:"id"`
	Name              string  `mapstructure:"name"`
	Description       string  `mapstructure:"description"`
	Amount            float64 `mapstructure:"amount"`
	EstimatedDelivery string  `mapstructure:"estimatedDelivery"`
}

func DefaultCheckoutPolicy() CheckoutPolicy {
	return CheckoutPolicy{
		Currencies:      []string{"TRY", "USD", "EUR"},
		DefaultCurrency: "USD",
		Tax: TaxPolicy{
			Mode: "exclusive",
			Rate: 0,
		},
		FulfillmentOptions: []FulfillmentOption{
			{
				ID:                "standard",
				Name:              "Standard Shipping",
				Description:       "Delivered in 5-7 business days",
				Amount:            0,
				EstimatedDelivery: "5-7 business days",
			},
		},
	}
}

// AllowsCurrency reports whether code is on the currency allow-list.
func (p CheckoutPolicy) AllowsCurrency(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, allowed := range p.Currencies {
		if strings.EqualFold(allowed, code) {
			return true
		}
	}
	return false
}

// OrderURL renders the merchant order page for orderID, or "" when unset.
func (p CheckoutPolicy) OrderURL(orderID string) string {
	if strings.TrimSpace(p.OrderURLTemplate) == "" || strings.TrimSpace(orderID) == "" {
		return ""
	}
	if strings.Contains(p.OrderURLTemplate, "{order_id}") {
		return strings.ReplaceAll(p.OrderURLTemplate, "{order_id}", orderID)
	}
	return strings.TrimRight(p.OrderURLTemplate, "/") + "/" + orderID
}

type CheckoutPolicyHolder struct {
	current atomic.Value // holds CheckoutPolicy
}

// NewStaticCheckoutPolicy returns a holder that never reloads.
func NewStaticCheckoutPolicy(policy CheckoutPolicy) *CheckoutPolicyHolder {
	holder := &CheckoutPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewCheckoutPolicyHolder(cfg Config, log *zap.Logger) (*CheckoutPolicyHolder, error) {
	log = log.Named("config.checkout")
	v := viper.New()

	if path := strings.TrimSpace(cfg.ACP.PolicyPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("checkout")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/acpgateway")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ACP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCheckoutPolicy()
	v.SetDefault("checkout.currencies", defaults.Currencies)
	v.SetDefault("checkout.defaultCurrency", defaults.DefaultCurrency)
	v.SetDefault("checkout.tax.mode", defaults.Tax.Mode)
	v.SetDefault("checkout.tax.rate", defaults.Tax.Rate)
	v.SetDefault("checkout.fulfillmentOptions", defaults.FulfillmentOptions)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read checkout policy: %w", err)
		}
		watch = false
		log.Info("checkout policy file not found, using defaults")
	}

	var policy CheckoutPolicy
	if err := v.UnmarshalKey("checkout", &policy); err != nil {
		return nil, fmt.Errorf("decode checkout policy: %w", err)
	}
	policy = normalizeCheckoutPolicy(policy)
	if err := ValidateCheckoutPolicy(policy); err != nil {
		return nil, err
	}

	holder := &CheckoutPolicyHolder{}
	holder.current.Store(policy)

	if watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated CheckoutPolicy
			if err := v.UnmarshalKey("checkout", &updated); err != nil {
				log.Warn("checkout policy reload failed", zap.Error(err))
				return
			}
			updated = normalizeCheckoutPolicy(updated)
			if err := ValidateCheckoutPolicy(updated); err != nil {
				log.Warn("invalid checkout policy ignored", zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("checkout policy reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *CheckoutPolicyHolder) Get() CheckoutPolicy {
	return h.current.Load().(CheckoutPolicy)
}

func normalizeCheckoutPolicy(p CheckoutPolicy) CheckoutPolicy {
	currencies := make([]string, 0, len(p.Currencies))
	for _, c := range p.Currencies {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			currencies = append(currencies, c)
		}
	}
	p.Currencies = currencies
	p.DefaultCurrency = strings.ToUpper(strings.TrimSpace(p.DefaultCurrency))
	p.Tax.Mode = strings.ToLower(strings.TrimSpace(p.Tax.Mode))
	if p.Tax.Mode == "" {
		p.Tax.Mode = "exclusive"
	}
	return p
}

func ValidateCheckoutPolicy(p CheckoutPolicy) error {
	if len(p.Currencies) == 0 {
		return errors.New("checkout.currencies cannot be empty")
	}
	if !p.AllowsCurrency(p.DefaultCurrency) {
		return fmt.Errorf("checkout.defaultCurrency %q is not in checkout.currencies", p.DefaultCurrency)
	}
	if p.Tax.Mode != "exclusive" && p.Tax.Mode != "inclusive" {
		return fmt.Errorf("checkout.tax.mode %q is not supported", p.Tax.Mode)
	}
	if p.Tax.Rate < 0 {
		return errors.New("checkout.tax.rate cannot be negative")
	}
	for _, opt := range p.FulfillmentOptions {
		if strings.TrimSpace(opt.ID) == "" {
			return errors.New("checkout.fulfillmentOptions[].id is required")
		}
		if opt.Amount < 0 {
			return fmt.Errorf("checkout.fulfillmentOptions[%s].amount cannot be negative", opt.ID)
		}
	}
	return nil
}
