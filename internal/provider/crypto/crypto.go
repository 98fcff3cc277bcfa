package crypto

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

type Currency string

const (
	BTC  Currency = "BTC"
	ETH  Currency = "ETH"
	USDT Currency = "USDT"
	USDC Currency = "USDC"
)

var (
	ErrUnsupportedCurrency = errors.New("unsupported crypto currency")
	ErrNoDepositAddress    = errors.New("no deposit address configured")
	ErrInvalidTxHash       = errors.New("invalid transaction hash")
)

// usdRates are fixed quotes; a live price feed can replace them behind Resolver.
var usdRates = map[Currency]decimal.Decimal{
	BTC:  decimal.NewFromInt(65000),
	ETH:  decimal.NewFromInt(3200),
	USDT: decimal.NewFromInt(1),
	USDC: decimal.NewFromInt(1),
}

var precision = map[Currency]int32{
	BTC:  8,
	ETH:  6,
	USDT: 2,
	USDC: 2,
}

var (
	btcTxHash = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	evmTxHash = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := usdRates[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, s)
	}
	return c, nil
}

// Resolver provides where and how much a borrower has to send. Confirming that the
// transfer happened is left to an admin.
type Resolver interface {
	GetDepositAddress(ctx context.Context, currency Currency) (string, error)
	Convert(amountCents int64, currency Currency) (string, error)
}

type StaticResolver struct {
	addresses map[Currency]string
}

func NewStaticResolver(addresses map[string]string) *StaticResolver {
	r := &StaticResolver{addresses: make(map[Currency]string)}
	for k, v := range addresses {
		if c, err := ParseCurrency(k); err == nil && v != "" {
			r.addresses[c] = v
		}
	}
	return r
}

func (r *StaticResolver) GetDepositAddress(ctx context.Context, currency Currency) (string, error) {
	if _, ok := usdRates[currency]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}

	addr, ok := r.addresses[currency]
	if !ok {
		return "", fmt.Errorf("%w for %s", ErrNoDepositAddress, currency)
	}
	return addr, nil
}

func (r *StaticResolver) Convert(amountCents int64, currency Currency) (string, error) {
	rate, ok := usdRates[currency]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}

	places := precision[currency]
	usd := decimal.New(amountCents, -2)
	return usd.DivRound(rate, places).StringFixed(places), nil
}

// ValidateTxHash checks the shape of a hash for the given chain, not its existence.
func ValidateTxHash(currency Currency, hash string) error {
	hash = strings.TrimSpace(hash)

	var ok bool
	switch currency {
	case BTC:
		ok = btcTxHash.MatchString(hash)
	case ETH, USDT, USDC:
		ok = evmTxHash.MatchString(hash)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}

	if !ok {
		return fmt.Errorf("%w for %s", ErrInvalidTxHash, currency)
	}
	return nil
}
