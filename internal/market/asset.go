package market

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownAssetType = errors.New("unknown asset type")

type AssetType string

const (
	AssetForex     AssetType = "FOREX"
	AssetStock     AssetType = "STOCK"
	AssetCommodity AssetType = "COMMODITY"
	AssetIndex     AssetType = "INDEX"
	AssetFuture    AssetType = "FUTURE"
	AssetOption    AssetType = "OPTION"
	AssetCFD       AssetType = "CFD"
	AssetBond      AssetType = "BOND"
	AssetCrypto    AssetType = "CRYPTO"
)

var assetTypes = []AssetType{
	AssetForex, AssetStock, AssetCommodity, AssetIndex, AssetFuture,
	AssetOption, AssetCFD, AssetBond, AssetCrypto,
}

func AssetTypes() []AssetType {
	out := make([]AssetType, len(assetTypes))
	copy(out, assetTypes)
	return out
}

func ParseAssetType(s string) (AssetType, error) {
	want := AssetType(strings.ToUpper(strings.TrimSpace(s)))
	for _, a := range assetTypes {
		if a == want {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAssetType, s)
}

// BarTable 返回该资产类别的 K 线表名，例如 crypto_mtf_bar。
func (a AssetType) BarTable() string {
	return strings.ToLower(string(a)) + "_mtf_bar"
}

func (a AssetType) String() string { return string(a) }
