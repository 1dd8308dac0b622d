package order

import "github.com/shopspring/decimal"

// L2Config carries the settlement-layer asset ids and fixed-point resolutions
// for a market.
type L2Config struct {
	Type                 string `json:"type"`
	CollateralID         string `json:"collateralId"`
	CollateralResolution int64  `json:"collateralResolution"`
	SyntheticID          string `json:"syntheticId"`
	SyntheticResolution  int64  `json:"syntheticResolution"`
}

// Market is the exchange-declared metadata needed to quantize orders.
type Market struct {
	Name                     string          `json:"name"`
	AssetName                string          `json:"assetName"`
	AssetPrecision           int             `json:"assetPrecision"`
	CollateralAssetName      string          `json:"collateralAssetName"`
	CollateralAssetPrecision int             `json:"collateralAssetPrecision"`
	MinPriceIncrement        decimal.Decimal `json:"minPriceChange"`
	MinSizeIncrement         decimal.Decimal `json:"minOrderSizeChange"`
	Active                   bool            `json:"active"`
	L2Config                 L2Config        `json:"l2Config"`
}

// TradingFee is the per-market fee schedule.
type TradingFee struct {
	Market         string          `json:"market"`
	MakerFeeRate   decimal.Decimal `json:"makerFeeRate"`
	TakerFeeRate   decimal.Decimal `json:"takerFeeRate"`
	BuilderFeeRate decimal.Decimal `json:"builderFeeRate"`
}

// DefaultFees is used when the account has no market-specific schedule.
var DefaultFees = TradingFee{
	MakerFeeRate: decimal.New(2, -4),
	TakerFeeRate: decimal.New(5, -4),
}
