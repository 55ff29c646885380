package api

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/atmx/energy-market/internal/model"
)

var tradeColumns = []string{
	"timestamp", "seller_id", "buyer_id", "energy_kwh", "price_per_kwh",
	"total_price", "settlement_ref", "simulated",
}

func tradeRecord(t *model.Trade) []string {
	return []string{
		t.Timestamp.UTC().Format(time.RFC3339),
		t.SellerID,
		t.BuyerID,
		t.EnergyAmount.String(),
		t.PricePerUnit.String(),
		t.TotalPrice.String(),
		t.SettlementRef,
		strconv.FormatBool(t.Simulated),
	}
}

// BuildTradesCSV renders the trade log as CSV with a header row.
func BuildTradesCSV(trades []model.Trade) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(tradeColumns); err != nil {
		return nil, err
	}
	for i := range trades {
		if err := w.Write(tradeRecord(&trades[i])); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildTradesXLSX renders a summary sheet and a trades sheet.
func BuildTradesXLSX(trades []model.Trade, stats model.MarketStats) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	tradesSheet := "trades"
	f.SetSheetName("Sheet1", summarySheet)
	if _, err := f.NewSheet(tradesSheet); err != nil {
		return nil, err
	}

	summary := [][2]interface{}{
		{"Energy Market Trades", ""},
		{"Generated", time.Now().UTC().Format(time.RFC3339)},
		{"Trades", stats.TradeCount},
		{"Real", stats.RealCount},
		{"Simulated", stats.SimulatedCount},
		{"Total Volume (kWh)", stats.TotalVolume.String()},
		{"Average Price", stats.AveragePrice.String()},
		{"Highest Price", stats.HighestPrice.String()},
		{"Lowest Price", stats.LowestPrice.String()},
	}
	for i, row := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), row[1])
	}

	for col, name := range tradeColumns {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		_ = f.SetCellValue(tradesSheet, cell, name)
	}
	for i := range trades {
		for col, v := range tradeRecord(&trades[i]) {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(tradesSheet, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildMarketPDF renders a one-page market statement with the newest trades.
func BuildMarketPDF(trades []model.Trade, stats model.MarketStats, maxRows int) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Energy Market Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Trades: %d (%d real, %d simulated)", stats.TradeCount, stats.RealCount, stats.SimulatedCount))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Volume (kWh): %s", stats.TotalVolume.StringFixed(3)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Average Price: %s  High: %s  Low: %s",
		stats.AveragePrice.StringFixed(4), stats.HighestPrice.StringFixed(4), stats.LowestPrice.StringFixed(4)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(40, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Seller", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Buyer", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Energy (kWh)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Total", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Mode", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	start := 0
	if maxRows > 0 && len(trades) > maxRows {
		start = len(trades) - maxRows
	}
	for _, t := range trades[start:] {
		mode := "real"
		if t.Simulated {
			mode = "simulated"
		}
		pdf.CellFormat(40, 6, t.Timestamp.UTC().Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(20, 6, t.SellerID, "1", 0, "C", false, 0, "")
		pdf.CellFormat(20, 6, t.BuyerID, "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, t.EnergyAmount.StringFixed(3), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, t.TotalPrice.StringFixed(6), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, mode, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
