package lending

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/big"
	"strconv"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

var historyColumns = []string{
	"market", "height", "cash", "total_borrows", "total_reserves", "total_shares",
	"exchange_rate", "utilization", "borrow_rate", "supply_rate",
}

// historyRow is the columnar form of a HistoryRecord. Values are decimal
// strings so 256-bit quantities survive the export.
type historyRow struct {
	Market        string `parquet:"name=market, type=BYTE_ARRAY, convertedtype=UTF8"`
	Height        int64  `parquet:"name=height, type=INT64"`
	Cash          string `parquet:"name=cash, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalBorrows  string `parquet:"name=total_borrows, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalReserves string `parquet:"name=total_reserves, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalShares   string `parquet:"name=total_shares, type=BYTE_ARRAY, convertedtype=UTF8"`
	ExchangeRate  string `parquet:"name=exchange_rate, type=BYTE_ARRAY, convertedtype=UTF8"`
	Utilization   string `parquet:"name=utilization, type=BYTE_ARRAY, convertedtype=UTF8"`
	BorrowRate    string `parquet:"name=borrow_rate, type=BYTE_ARRAY, convertedtype=UTF8"`
	SupplyRate    string `parquet:"name=supply_rate, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func toRow(rec HistoryRecord) historyRow {
	return historyRow{
		Market:        rec.Market,
		Height:        int64(rec.Height),
		Cash:          decimalString(rec.Cash),
		TotalBorrows:  decimalString(rec.TotalBorrows),
		TotalReserves: decimalString(rec.TotalReserves),
		TotalShares:   decimalString(rec.TotalShares),
		ExchangeRate:  decimalString(rec.ExchangeRate),
		Utilization:   decimalString(rec.Utilization),
		BorrowRate:    decimalString(rec.BorrowRate),
		SupplyRate:    decimalString(rec.SupplyRate),
	}
}

func decimalString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// WriteParquet encodes records as a snappy compressed parquet file.
func WriteParquet(w io.Writer, records []HistoryRecord) error {
	fw := writerfile.NewWriterFile(w)
	pw, err := writer.NewParquetWriter(fw, new(historyRow), 1)
	if err != nil {
		return fmt.Errorf("history: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, rec := range records {
		row := toRow(rec)
		if err := pw.Write(&row); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("history: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("history: parquet flush: %w", err)
	}
	return nil
}

// WriteCSV encodes records as CSV with a header row.
func WriteCSV(w io.Writer, records []HistoryRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(historyColumns); err != nil {
		return fmt.Errorf("history: csv header: %w", err)
	}
	for _, rec := range records {
		row := toRow(rec)
		err := cw.Write([]string{
			row.Market, strconv.FormatInt(row.Height, 10), row.Cash, row.TotalBorrows,
			row.TotalReserves, row.TotalShares, row.ExchangeRate, row.Utilization,
			row.BorrowRate, row.SupplyRate,
		})
		if err != nil {
			return fmt.Errorf("history: csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
