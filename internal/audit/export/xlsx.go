// Package export 审计日志合规导出（Excel）
package export

import (
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"forgecore/internal/models"

	"github.com/xuri/excelize/v2"
)

// SheetName 导出工作表名称
const SheetName = "Audit Log"

// Header 导出表头
var Header = []string{
	"Sequence",
	"Entry ID",
	"Recorded At",
	"Event Time",
	"From",
	"To",
	"Trigger",
	"Fused Temp (°C)",
	"Confidence",
	"Profile",
	"Detail",
	"Signed",
	"Signer Key",
	"Signer Error",
	"Signature",
	"Prev Hash",
	"Hash",
}

var columnWidths = []float64{10, 38, 24, 24, 14, 14, 24, 16, 12, 18, 40, 8, 16, 40, 48, 66, 66}

// WriteXLSX 把条目写为 xlsx
func WriteXLSX(w io.Writer, entries []models.AuditEntry) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	// 未签名条目整行标红，便于与已签名条目区分
	unsignedStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FDE2E2"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create unsigned style: %w", err)
	}

	for col, header := range Header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(SheetName, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(Header))
	if err := f.SetCellStyle(SheetName, "A1", lastCol+"1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	for i, width := range columnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SheetName, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, entry := range entries {
		row := i + 2
		values := rowValues(entry)
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", row, err)
		}
		if !entry.Signed() {
			if err := f.SetCellStyle(SheetName, cell, fmt.Sprintf("%s%d", lastCol, row), unsignedStyle); err != nil {
				return fmt.Errorf("failed to style row %d: %w", row, err)
			}
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}

func rowValues(entry models.AuditEntry) []any {
	ev := entry.Event
	signature := ""
	if entry.Signed() {
		signature = base64.StdEncoding.EncodeToString(entry.Signature)
	}
	return []any{
		entry.Sequence,
		entry.ID,
		entry.RecordedAt.UTC().Format(time.RFC3339Nano),
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		ev.From.String(),
		ev.To.String(),
		string(ev.Trigger),
		ev.FusedTemp.Float(),
		ev.Confidence.String(),
		ev.Profile,
		ev.Detail,
		entry.Signed(),
		entry.SignerIdentityRef,
		entry.SignerError,
		signature,
		entry.PrevHash,
		entry.Hash,
	}
}
