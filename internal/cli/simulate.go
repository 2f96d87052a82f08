package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"marketwatch/internal/market"
)

var (
	simulateCategory string
	simulateSlug     string
	simulatePrice    float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格观测并评估已武装的规则",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSlug == "" {
			return errors.New("--slug 不能为空")
		}
		if simulatePrice <= 0 {
			return errors.New("--price 必须大于 0")
		}

		category, err := market.ParseCategory(simulateCategory)
		if err != nil {
			return err
		}

		price := decimal.NewFromFloat(simulatePrice)
		return getApp().SimulateAlert(cmd.Context(), category, simulateSlug, price)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateCategory, "category", "gold", "资产类别 (gold/crypto/currency)")
	simulateCmd.Flags().StringVar(&simulateSlug, "slug", "", "资产标识")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "模拟观测价格")
}
