package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/bridge/ledger"
)

func newLedgerCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the virtual order ledger",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "./bridge.sqlite", "path to ledger database")

	openCmd := &cobra.Command{
		Use:   "open",
		Short: "List open virtual orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ledger.OpenStore(dbPath)
			if err != nil {
				return err
			}
			defer store.CloseDB()

			orders, err := store.ListAllOpen()
			if err != nil {
				return err
			}
			printOrders(orders, false)
			return nil
		},
	}

	var instance string
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List closed virtual orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ledger.OpenStore(dbPath)
			if err != nil {
				return err
			}
			defer store.CloseDB()

			orders, err := store.ListHistory(instance)
			if err != nil {
				return err
			}
			printOrders(orders, true)
			return nil
		},
	}
	historyCmd.Flags().StringVar(&instance, "instance", "", "filter by strategy instance (empty for all)")

	cmd.AddCommand(openCmd, historyCmd)
	return cmd
}

func printOrders(orders []ledger.Order, closed bool) {
	if len(orders) == 0 {
		fmt.Println("no orders")
		return
	}
	for _, o := range orders {
		if closed {
			fmt.Printf("%7d  %-12s %-9s %-7s %8.2f  open %.5f @ %s  close %.5f @ %s  pl %.2f (%.4f)\n",
				o.Ticket, o.InstanceID, o.Type, o.Instrument, o.Volume,
				o.OpenPrice, o.OpenTime.Format("2006-01-02 15:04:05"),
				o.ClosePrice, o.CloseTime.Format("2006-01-02 15:04:05"),
				o.RealizedProfit, o.RealizedProfitRatio)
			continue
		}
		fmt.Printf("%7d  %-12s %-9s %-7s %8.2f  open %.5f @ %s  sl %.5f tp %.5f  pl %.2f\n",
			o.Ticket, o.InstanceID, o.Type, o.Instrument, o.Volume,
			o.OpenPrice, o.OpenTime.Format("2006-01-02 15:04:05"),
			o.StopLoss, o.TakeProfit, o.FloatingProfit)
	}
}
